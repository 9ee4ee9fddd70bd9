// Package gatewayapi implements the /_mik/* discovery and OpenAPI
// aggregation endpoints an external gateway uses to learn which handlers
// exist and how to validate requests against them.
package gatewayapi

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	wasmExt    = ".wasm"
	openapiExt = ".openapi.json"
)

// Module describes one discovered WASM handler: its platform or tenant
// location, size, and whether it carries a sibling OpenAPI spec.
type Module struct {
	Name        string
	WasmPath    string
	SizeBytes   int64
	OpenAPIPath string // empty when no sibling .openapi.json exists
	TenantID    string // empty for platform modules
}

// HasOpenAPI reports whether the module has a sibling OpenAPI spec.
func (m Module) HasOpenAPI() bool { return m.OpenAPIPath != "" }

// Tenant describes one discovered tenant directory under the user-modules root.
type Tenant struct {
	ID          string
	Path        string
	ModuleCount int
}

// DiscoverModules scans dir for "<name>.wasm" files and their optional
// "<name>.openapi.json" siblings. tenantID is attached to every discovered
// module (empty for a platform scan). Results are sorted by name. A
// missing or unreadable directory yields an empty, non-error result.
func DiscoverModules(dir string, tenantID string) []Module {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var modules []Module
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, wasmExt) {
			continue
		}
		stem := strings.TrimSuffix(name, wasmExt)
		if stem == "" {
			continue
		}

		wasmPath := filepath.Join(dir, name)
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}

		openapiPath := ""
		candidate := filepath.Join(dir, stem+openapiExt)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			openapiPath = candidate
		}

		modules = append(modules, Module{
			Name:        stem,
			WasmPath:    wasmPath,
			SizeBytes:   size,
			OpenAPIPath: openapiPath,
			TenantID:    tenantID,
		})
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules
}

// DiscoverTenants scans userModulesDir for tenant subdirectories, counting
// the modules within each. Results are sorted by tenant ID.
func DiscoverTenants(userModulesDir string) []Tenant {
	entries, err := os.ReadDir(userModulesDir)
	if err != nil {
		return nil
	}

	var tenants []Tenant
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		path := filepath.Join(userModulesDir, id)
		tenants = append(tenants, Tenant{
			ID:          id,
			Path:        path,
			ModuleCount: len(DiscoverModules(path, id)),
		})
	}

	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants
}

// DiscoverAll returns the platform modules (from modulesDir) and every
// tenant module (from each subdirectory of userModulesDir). An empty
// userModulesDir skips tenant discovery entirely.
func DiscoverAll(modulesDir, userModulesDir string) (platform []Module, tenant []Module) {
	platform = DiscoverModules(modulesDir, "")

	if userModulesDir == "" {
		return platform, nil
	}
	for _, t := range DiscoverTenants(userModulesDir) {
		tenant = append(tenant, DiscoverModules(t.Path, t.ID)...)
	}
	return platform, tenant
}
