package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/service"
)

// recordView is the printable form of a blob record
type recordView struct {
	ID        string `yaml:"id"`
	Tenant    string `yaml:"tenant"`
	Size      int64  `yaml:"size"`
	Checksum  string `yaml:"checksum"`
	CreatedAt string `yaml:"created_at"`
}

func toRecordView(r *model.BlobRecord) recordView {
	return recordView{
		ID:        r.ID.String(),
		Tenant:    r.Tenant,
		Size:      r.Size,
		Checksum:  r.Checksum,
		CreatedAt: formatTime(r.CreatedAt),
	}
}

func writeYAML(w io.Writer, payload any) error {
	if records, ok := payload.([]*model.BlobRecord); ok {
		views := make([]recordView, 0, len(records))
		for _, r := range records {
			views = append(views, toRecordView(r))
		}
		payload = views
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(payload); err != nil {
		return err
	}
	return enc.Close()
}

// writeRecordDetail prints a record and, when chunk is nil, notes that its
// content file is missing
func writeRecordDetail(w io.Writer, r *model.BlobRecord, chunk *model.ChunkInfo) error {
	v := toRecordView(r)
	lines := []string{
		fmt.Sprintf("id: %s", v.ID),
		fmt.Sprintf("tenant: %s", v.Tenant),
		fmt.Sprintf("size: %d", v.Size),
		fmt.Sprintf("checksum: %s", v.Checksum),
		fmt.Sprintf("created_at: %s", v.CreatedAt),
	}
	if chunk == nil {
		lines = append(lines, "chunk: missing")
	} else {
		lines = append(lines,
			fmt.Sprintf("chunk_size: %d", chunk.Size),
			fmt.Sprintf("chunk_modified: %s", formatTime(chunk.ModTime)))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func writeRecordTable(w io.Writer, records []*model.BlobRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSIZE\tCHECKSUM\tCREATED")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.ID, r.Size, shortChecksum(r.Checksum), formatTime(r.CreatedAt))
	}
	return tw.Flush()
}

func writeScrubReport(w io.Writer, r *service.ScrubReport) error {
	status := "ok"
	if !r.Healthy() {
		status = "failed"
	}
	if _, err := fmt.Fprintf(w, "%s: checked=%d corrupt=%d missing=%d %s\n",
		r.Tenant, r.Checked, len(r.Corrupt), len(r.Missing), status); err != nil {
		return err
	}
	for _, id := range r.Corrupt {
		if _, err := fmt.Fprintf(w, "  corrupt %s\n", id); err != nil {
			return err
		}
	}
	for _, id := range r.Missing {
		if _, err := fmt.Fprintf(w, "  missing %s\n", id); err != nil {
			return err
		}
	}
	return nil
}

func writeSweepReport(w io.Writer, r *service.SweepReport) error {
	if _, err := fmt.Fprintf(w, "scanned=%d orphans=%d removed=%d skipped_young=%d temp_removed=%d dry_run=%t\n",
		r.Scanned, len(r.Orphans), r.Removed, r.SkippedYoung, r.TempRemoved, r.DryRun); err != nil {
		return err
	}
	for _, id := range r.Orphans {
		if _, err := fmt.Fprintf(w, "  orphan %s\n", id); err != nil {
			return err
		}
	}
	return nil
}

func shortChecksum(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
