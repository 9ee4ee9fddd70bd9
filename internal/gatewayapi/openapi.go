package gatewayapi

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// OpenAPIVersion is the version stamped into every aggregated document.
const OpenAPIVersion = "3.0.3"

// AggregatePlatformSpec reads every platform module's sibling .openapi.json
// and merges them into one document with paths prefixed "/run/<name>".
func AggregatePlatformSpec(modulesDir string, log *zap.Logger) map[string]any {
	modules := DiscoverModules(modulesDir, "")
	return aggregateSpecs("Platform API", collectSpecs(modules, log), "/run")
}

// AggregateTenantSpec reads a tenant's modules' OpenAPI specs and merges
// them with an empty route prefix (the external gateway rewrites tenant
// routes itself), returning false if the tenant directory does not exist.
func AggregateTenantSpec(userModulesDir, tenantID string, log *zap.Logger) (map[string]any, bool) {
	tenantDir := userModulesDir + string(os.PathSeparator) + tenantID
	info, err := os.Stat(tenantDir)
	if err != nil || !info.IsDir() {
		return nil, false
	}

	modules := DiscoverModules(tenantDir, tenantID)
	return aggregateSpecs(fmt.Sprintf("Tenant %s API", tenantID), collectSpecs(modules, log), ""), true
}

// ListTenantsWithSpecs returns the IDs of tenants with at least one module.
func ListTenantsWithSpecs(userModulesDir string) []string {
	var ids []string
	for _, t := range DiscoverTenants(userModulesDir) {
		if t.ModuleCount > 0 {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

type namedSpec struct {
	name string
	spec map[string]any
}

func collectSpecs(modules []Module, log *zap.Logger) []namedSpec {
	var out []namedSpec
	for _, m := range modules {
		if !m.HasOpenAPI() {
			continue
		}
		spec, err := readOpenAPISpec(m.OpenAPIPath)
		if err != nil {
			log.Warn("failed to read openapi spec", zap.String("path", m.OpenAPIPath), zap.Error(err))
			continue
		}
		out = append(out, namedSpec{name: m.Name, spec: spec})
	}
	return out
}

func readOpenAPISpec(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec map[string]any
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// aggregateSpecs merges paths and component schemas from each named spec,
// prefixing paths with routePrefix/name and schema names with name_.
func aggregateSpecs(title string, specs []namedSpec, routePrefix string) map[string]any {
	paths := map[string]any{}
	schemas := map[string]any{}

	for _, ns := range specs {
		if specPaths, ok := ns.spec["paths"].(map[string]any); ok {
			mergePaths(paths, specPaths, ns.name, routePrefix)
		}
		if components, ok := ns.spec["components"].(map[string]any); ok {
			if specSchemas, ok := components["schemas"].(map[string]any); ok {
				mergeSchemas(schemas, specSchemas, ns.name)
			}
		}
	}

	return map[string]any{
		"openapi": OpenAPIVersion,
		"info": map[string]any{
			"title":   title,
			"version": "1.0.0",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": schemas,
		},
	}
}

func mergePaths(aggregated map[string]any, handlerPaths map[string]any, handlerName, routePrefix string) {
	for path, operations := range handlerPaths {
		normalized := path
		if !strings.HasPrefix(normalized, "/") {
			normalized = "/" + normalized
		}
		fullPath := routePrefix + "/" + handlerName + normalized
		aggregated[fullPath] = updateSchemaRefs(operations, handlerName)
	}
}

func mergeSchemas(aggregated map[string]any, handlerSchemas map[string]any, handlerName string) {
	for name, schema := range handlerSchemas {
		aggregated[handlerName+"_"+name] = updateSchemaRefs(schema, handlerName)
	}
}

const schemaRefPrefix = "#/components/schemas/"

// updateSchemaRefs deep-copies value, rewriting every "$ref":
// "#/components/schemas/Foo" to "#/components/schemas/<handlerName>_Foo".
func updateSchemaRefs(value any, handlerName string) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if key == "$ref" {
				if refStr, ok := val.(string); ok {
					if schemaName, ok := strings.CutPrefix(refStr, schemaRefPrefix); ok {
						out[key] = schemaRefPrefix + handlerName + "_" + schemaName
						continue
					}
				}
			}
			out[key] = updateSchemaRefs(val, handlerName)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = updateSchemaRefs(item, handlerName)
		}
		return out
	default:
		return value
	}
}
