// Package engine holds the request-lifecycle orchestrator: shared process
// state, module-path parsing, and the WASM dispatch path wired to the
// module cache, breaker, semaphores, and executor.
package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ModulePath distinguishes a platform module (modules/{name}.wasm) from a
// tenant-scoped one (user-modules/{tenant_id}/{name}.wasm), parsed from the
// URL segment following /run/.
type ModulePath struct {
	TenantID string // empty for platform modules
	Name     string
}

// ParseModulePath parses the URL segment after "/run/". A segment with
// exactly one slash, where neither side is empty and the remainder contains
// no further slash, is a tenant module; anything else is a platform module
// (including segments with zero or more-than-one slash, which belong to a
// sub-path within a platform module's handler).
func ParseModulePath(segment string) ModulePath {
	if first, rest, ok := strings.Cut(segment, "/"); ok {
		if first != "" && rest != "" && !strings.Contains(rest, "/") {
			return ModulePath{TenantID: first, Name: rest}
		}
	}
	return ModulePath{Name: segment}
}

// IsTenant reports whether this is a tenant-scoped module.
func (p ModulePath) IsTenant() bool { return p.TenantID != "" }

// CacheKey is the module cache key: the bare name for platform modules,
// "tenant:{id}/{name}" for tenant modules, so the two namespaces can never
// collide.
func (p ModulePath) CacheKey() string {
	if p.IsTenant() {
		return fmt.Sprintf("tenant:%s/%s", p.TenantID, p.Name)
	}
	return p.Name
}

// HandlerName is the identifier reported in the X-Mik-Handler header.
func (p ModulePath) HandlerName() string {
	if p.IsTenant() {
		return fmt.Sprintf("%s/%s", p.TenantID, p.Name)
	}
	return p.Name
}

func (p ModulePath) String() string { return p.HandlerName() }

// WasmPath resolves the on-disk .wasm location. Returns "", false for a
// tenant module when userModulesDir is empty (tenant modules unconfigured).
func (p ModulePath) WasmPath(modulesDir, userModulesDir string) (string, bool) {
	if !p.IsTenant() {
		return filepath.Join(modulesDir, p.Name+".wasm"), true
	}
	if userModulesDir == "" {
		return "", false
	}
	return filepath.Join(userModulesDir, p.TenantID, p.Name+".wasm"), true
}

// OpenAPIPath resolves the on-disk sibling .openapi.json location, following
// the same tenant/platform rule as WasmPath.
func (p ModulePath) OpenAPIPath(modulesDir, userModulesDir string) (string, bool) {
	if !p.IsTenant() {
		return filepath.Join(modulesDir, p.Name+".openapi.json"), true
	}
	if userModulesDir == "" {
		return "", false
	}
	return filepath.Join(userModulesDir, p.TenantID, p.Name+".openapi.json"), true
}
