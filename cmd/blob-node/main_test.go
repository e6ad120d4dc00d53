package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, dir, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--storage-dir", dir, "--log-level", "error"}, args...)
	code := run(full, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestCLI_BlobLifecycle(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()

	res := runCLI(t, dir, "", "register-tenant", "posts")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "posts\n", res.stdout)

	res = runCLI(t, dir, "hello", "put", "posts")
	require.Equal(t, 0, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)
	require.NotEmpty(t, id)

	res = runCLI(t, dir, "", "get", "posts", id)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hello", res.stdout)

	res = runCLI(t, dir, "", "stat", "posts", id)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "size: 5")
	assert.Contains(t, res.stdout, "checksum: 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	assert.Contains(t, res.stdout, "chunk_size: 5")

	res = runCLI(t, dir, "", "list-blobs", "posts")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, id)

	res = runCLI(t, dir, "", "delete", "posts", id)
	require.Equal(t, 0, res.code, res.stderr)

	res = runCLI(t, dir, "", "get", "posts", id)
	assert.Equal(t, 4, res.code)
	assert.Empty(t, res.stdout)
}

func TestCLI_StatReportsMissingChunk(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()

	require.Equal(t, 0, runCLI(t, dir, "", "register-tenant", "posts").code)
	res := runCLI(t, dir, "hello", "put", "posts")
	require.Equal(t, 0, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)

	require.NoError(t, os.Remove(filepath.Join(dir, "chunks", id+".blob")))

	res = runCLI(t, dir, "", "stat", "posts", id)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "size: 5")
	assert.Contains(t, res.stdout, "chunk: missing")
}

func TestCLI_PutFromFile(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(src, []byte("file content"), 0o644))

	require.Equal(t, 0, runCLI(t, dir, "", "register-tenant", "docs").code)

	res := runCLI(t, dir, "", "put", "docs", src)
	require.Equal(t, 0, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)

	out := filepath.Join(t.TempDir(), "out.bin")
	res = runCLI(t, dir, "", "get", "docs", id, "-o", out)
	require.Equal(t, 0, res.code, res.stderr)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(got))
}

func TestCLI_TamperedChunkRemovesOutput(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()

	require.Equal(t, 0, runCLI(t, dir, "", "register-tenant", "posts").code)
	res := runCLI(t, dir, "original", "put", "posts")
	require.Equal(t, 0, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)

	chunk := filepath.Join(dir, "chunks", id+".blob")
	require.NoError(t, os.WriteFile(chunk, []byte("tampered"), 0o644))

	out := filepath.Join(t.TempDir(), "out.bin")
	res = runCLI(t, dir, "", "get", "posts", id, "-o", out)
	assert.Equal(t, 6, res.code)
	assert.NoFileExists(t, out)

	res = runCLI(t, dir, "", "scrub", "posts")
	assert.Equal(t, 6, res.code)
	assert.Contains(t, res.stdout, "corrupt "+id)
}

func TestCLI_ExitCodes(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()

	res := runCLI(t, dir, "data", "put", "ghost")
	assert.Equal(t, 3, res.code)
	assert.Contains(t, res.stderr, "error:")

	require.Equal(t, 0, runCLI(t, dir, "", "register-tenant", "posts").code)
	assert.Equal(t, 5, runCLI(t, dir, "", "register-tenant", "posts").code)
	assert.Equal(t, 2, runCLI(t, dir, "", "get", "posts", "not-a-uuid").code)
	assert.Equal(t, 2, runCLI(t, dir, "", "register-tenant", "").code)
}

func TestCLI_MetricsFile(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()
	metricsFile := filepath.Join(t.TempDir(), "blob-node.prom")

	res := runCLI(t, dir, "", "--metrics-file", metricsFile, "register-tenant", "posts")
	require.Equal(t, 0, res.code, res.stderr)

	body, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pairdb_system_tenants_total")
}

func TestCLI_ConfigShowDoesNotOpenRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")

	res := runCLI(t, dir, "", "config", "show")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "dir: "+dir)
	assert.NoDirExists(t, dir)
}

func TestCLI_SweepDryRun(t *testing.T) {
	t.Setenv("BLOBNODE_DISK_GUARD_ENABLED", "false")
	dir := t.TempDir()

	res := runCLI(t, dir, "", "sweep", "--dry-run")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "dry_run=true")
}
