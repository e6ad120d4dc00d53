package metadata

import (
	"github.com/google/uuid"
)

// Keyspaces of the shared KV database. Each key starts with one prefix byte.
const (
	tenantKeySpace byte = 0x01
	recordKeySpace byte = 0x02
	ownerKeySpace  byte = 0x03

	// separates a variable-length tenant name from what follows it; tenant
	// names cannot contain NUL
	tenantTerminator byte = 0x00
)

// TenantKey returns the key of a tenant registration
func TenantKey(tenant string) []byte {
	key := make([]byte, 0, 1+len(tenant))
	key = append(key, tenantKeySpace)
	return append(key, tenant...)
}

// TenantPrefix is the prefix shared by every tenant registration key
func TenantPrefix() []byte {
	return []byte{tenantKeySpace}
}

// TenantFromKey decodes a key produced by TenantKey
func TenantFromKey(key []byte) (string, bool) {
	if len(key) < 2 || key[0] != tenantKeySpace {
		return "", false
	}
	return string(key[1:]), true
}

func recordPrefix(tenant string) []byte {
	key := make([]byte, 0, 2+len(tenant)+16)
	key = append(key, recordKeySpace)
	key = append(key, tenant...)
	return append(key, tenantTerminator)
}

func recordKey(tenant string, id uuid.UUID) []byte {
	return append(recordPrefix(tenant), id[:]...)
}

func ownerPrefix(id uuid.UUID) []byte {
	key := make([]byte, 0, 17)
	key = append(key, ownerKeySpace)
	return append(key, id[:]...)
}

func ownerKey(id uuid.UUID, tenant string) []byte {
	return append(ownerPrefix(id), tenant...)
}

// displayKey renders a record key for errors and logs
func displayKey(tenant string, id uuid.UUID) string {
	return tenant + "/" + id.String()
}
