package gatewayapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModule(t *testing.T, dir, name string, withOpenAPI bool) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".wasm"), []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}, 0o644))
	if withOpenAPI {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".openapi.json"), []byte(`{"openapi":"3.0.0"}`), 0o644))
	}
}

func TestDiscoverModulesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, DiscoverModules(dir, ""))
}

func TestDiscoverModulesWithWasm(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "auth", true)
	writeModule(t, dir, "payments", false)

	modules := DiscoverModules(dir, "")
	require.Len(t, modules, 2)

	byName := map[string]Module{}
	for _, m := range modules {
		byName[m.Name] = m
	}
	assert.True(t, byName["auth"].HasOpenAPI())
	assert.Empty(t, byName["auth"].TenantID)
	assert.False(t, byName["payments"].HasOpenAPI())
}

func TestDiscoverModulesWithTenantID(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "orders", true)

	modules := DiscoverModules(dir, "tenant-123")
	require.Len(t, modules, 1)
	assert.Equal(t, "tenant-123", modules[0].TenantID)
}

func TestDiscoverTenants(t *testing.T) {
	dir := t.TempDir()
	tenant1 := filepath.Join(dir, "tenant-abc")
	tenant2 := filepath.Join(dir, "tenant-xyz")
	require.NoError(t, os.MkdirAll(tenant1, 0o755))
	require.NoError(t, os.MkdirAll(tenant2, 0o755))
	writeModule(t, tenant1, "orders", true)
	writeModule(t, tenant1, "inventory", false)

	tenants := DiscoverTenants(dir)
	require.Len(t, tenants, 2)

	byID := map[string]Tenant{}
	for _, tt := range tenants {
		byID[tt.ID] = tt
	}
	assert.Equal(t, 2, byID["tenant-abc"].ModuleCount)
	assert.Equal(t, 0, byID["tenant-xyz"].ModuleCount)
}

func TestDiscoverAll(t *testing.T) {
	base := t.TempDir()
	platformDir := filepath.Join(base, "modules")
	require.NoError(t, os.MkdirAll(platformDir, 0o755))
	writeModule(t, platformDir, "auth", true)

	userDir := filepath.Join(base, "user-modules")
	tenantDir := filepath.Join(userDir, "tenant-123")
	require.NoError(t, os.MkdirAll(tenantDir, 0o755))
	writeModule(t, tenantDir, "orders", true)

	platform, tenant := DiscoverAll(platformDir, userDir)
	require.Len(t, platform, 1)
	assert.Equal(t, "auth", platform[0].Name)
	assert.Empty(t, platform[0].TenantID)

	require.Len(t, tenant, 1)
	assert.Equal(t, "orders", tenant[0].Name)
	assert.Equal(t, "tenant-123", tenant[0].TenantID)
}
