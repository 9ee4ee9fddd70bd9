package gatewayapi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeOpenAPISpec(t *testing.T, dir, name string, paths map[string]string) {
	t.Helper()
	pathsObj := map[string]any{}
	for path, method := range paths {
		pathsObj[path] = map[string]any{
			method: map[string]any{
				"summary":   method + " " + path,
				"responses": map[string]any{"200": map[string]any{"description": "Success"}},
			},
		}
	}
	spec := map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]any{"title": name, "version": "1.0.0"},
		"paths":   pathsObj,
		"components": map[string]any{
			"schemas": map[string]any{
				"Response": map[string]any{
					"type":       "object",
					"properties": map[string]any{"message": map[string]any{"type": "string"}},
				},
			},
		},
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".openapi.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".wasm"), []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}, 0o644))
}

func TestAggregatePlatformSpecEmpty(t *testing.T) {
	dir := t.TempDir()
	spec := AggregatePlatformSpec(dir, zap.NewNop())

	assert.Equal(t, OpenAPIVersion, spec["openapi"])
	info := spec["info"].(map[string]any)
	assert.Equal(t, "Platform API", info["title"])
	assert.Empty(t, spec["paths"].(map[string]any))
}

func TestAggregatePlatformSpecWithHandlers(t *testing.T) {
	dir := t.TempDir()
	writeOpenAPISpec(t, dir, "auth", map[string]string{"/login": "post", "/logout": "post"})
	writeOpenAPISpec(t, dir, "users", map[string]string{"/": "get", "/{id}": "get"})

	spec := AggregatePlatformSpec(dir, zap.NewNop())
	paths := spec["paths"].(map[string]any)

	assert.Contains(t, paths, "/run/auth/login")
	assert.Contains(t, paths, "/run/auth/logout")
	assert.Contains(t, paths, "/run/users/")
	assert.Contains(t, paths, "/run/users/{id}")

	schemas := spec["components"].(map[string]any)["schemas"].(map[string]any)
	assert.Contains(t, schemas, "auth_Response")
	assert.Contains(t, schemas, "users_Response")
}

func TestAggregateTenantSpec(t *testing.T) {
	base := t.TempDir()
	tenantDir := filepath.Join(base, "tenant-abc")
	require.NoError(t, os.MkdirAll(tenantDir, 0o755))
	writeOpenAPISpec(t, tenantDir, "orders", map[string]string{"/": "get"})

	spec, ok := AggregateTenantSpec(base, "tenant-abc", zap.NewNop())
	require.True(t, ok)

	info := spec["info"].(map[string]any)
	assert.Equal(t, "Tenant tenant-abc API", info["title"])

	paths := spec["paths"].(map[string]any)
	assert.Contains(t, paths, "/orders/")
}

func TestAggregateTenantSpecNotFound(t *testing.T) {
	base := t.TempDir()
	_, ok := AggregateTenantSpec(base, "nonexistent", zap.NewNop())
	assert.False(t, ok)
}

func TestUpdateSchemaRefs(t *testing.T) {
	value := map[string]any{
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"$ref": "#/components/schemas/User",
				},
			},
		},
	}

	updated := updateSchemaRefs(value, "auth").(map[string]any)
	content := updated["content"].(map[string]any)
	appJSON := content["application/json"].(map[string]any)
	schema := appJSON["schema"].(map[string]any)

	assert.Equal(t, "#/components/schemas/auth_User", schema["$ref"])
}

func TestListTenantsWithSpecs(t *testing.T) {
	base := t.TempDir()
	withModules := filepath.Join(base, "tenant-1")
	require.NoError(t, os.MkdirAll(withModules, 0o755))
	writeOpenAPISpec(t, withModules, "orders", map[string]string{"/": "get"})

	empty := filepath.Join(base, "tenant-2")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	tenants := ListTenantsWithSpecs(base)
	require.Len(t, tenants, 1)
	assert.Equal(t, "tenant-1", tenants[0])
}
