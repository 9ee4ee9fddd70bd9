package gatewayapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/mikerrors"
)

// HandlerAttributes is the JSON:API "attributes" object for one handler.
type HandlerAttributes struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	HasOpenAPI  bool   `json:"has_openapi"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// HandlerLinks is the JSON:API "links" object for one handler.
type HandlerLinks struct {
	Self    string `json:"self"`
	OpenAPI string `json:"openapi,omitempty"`
}

// HandlerInfo is one entry in the /_mik/handlers response's "data" array.
type HandlerInfo struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes HandlerAttributes `json:"attributes"`
	Links      HandlerLinks      `json:"links"`
}

// HandlersMeta is the /_mik/handlers response's "meta" object.
type HandlersMeta struct {
	Total         int    `json:"total"`
	PlatformCount int    `json:"platform_count"`
	TenantCount   int    `json:"tenant_count"`
	Timestamp     string `json:"timestamp"`
}

// HandlersResponse is the full /_mik/handlers response body.
type HandlersResponse struct {
	Data []HandlerInfo `json:"data"`
	Meta HandlersMeta  `json:"meta"`
}

// Handlers serves the /_mik/* discovery and OpenAPI aggregation endpoints.
type Handlers struct {
	ModulesDir     string
	UserModulesDir string
	Log            *zap.Logger
}

// New constructs a Handlers bound to the given module directories.
func New(modulesDir, userModulesDir string, log *zap.Logger) *Handlers {
	return &Handlers{ModulesDir: modulesDir, UserModulesDir: userModulesDir, Log: log}
}

// ServeHandlers implements GET /_mik/handlers.
func (h *Handlers) ServeHandlers(w http.ResponseWriter, r *http.Request) {
	platform, tenant := DiscoverAll(h.ModulesDir, h.UserModulesDir)

	data := make([]HandlerInfo, 0, len(platform)+len(tenant))
	for _, m := range platform {
		info := HandlerInfo{
			ID:   m.Name,
			Type: "wasm",
			Attributes: HandlerAttributes{
				Name:       m.Name,
				SizeBytes:  m.SizeBytes,
				HasOpenAPI: m.HasOpenAPI(),
			},
			Links: HandlerLinks{Self: "/run/" + m.Name + "/"},
		}
		if m.HasOpenAPI() {
			info.Links.OpenAPI = "/_mik/openapi/platform"
		}
		data = append(data, info)
	}
	for _, m := range tenant {
		id := m.TenantID + "/" + m.Name
		info := HandlerInfo{
			ID:   id,
			Type: "wasm",
			Attributes: HandlerAttributes{
				Name:       m.Name,
				SizeBytes:  m.SizeBytes,
				HasOpenAPI: m.HasOpenAPI(),
				TenantID:   m.TenantID,
			},
			Links: HandlerLinks{Self: "/tenant/" + m.TenantID + "/" + m.Name + "/"},
		}
		if m.HasOpenAPI() {
			info.Links.OpenAPI = "/_mik/openapi/tenant/" + m.TenantID
		}
		data = append(data, info)
	}

	resp := HandlersResponse{
		Data: data,
		Meta: HandlersMeta{
			Total:         len(platform) + len(tenant),
			PlatformCount: len(platform),
			TenantCount:   len(tenant),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		},
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

// ServePlatformOpenAPI implements GET /_mik/openapi/platform.
func (h *Handlers) ServePlatformOpenAPI(w http.ResponseWriter, r *http.Request) {
	spec := AggregatePlatformSpec(h.ModulesDir, h.Log)
	httpapi.WriteJSON(w, http.StatusOK, spec)
}

// ServeTenantOpenAPI implements GET /_mik/openapi/tenant/<tenant-id>.
func (h *Handlers) ServeTenantOpenAPI(w http.ResponseWriter, r *http.Request, tenantID string) {
	if tenantID == "" {
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindInvalidRequest, "tenant ID is required"))
		return
	}
	if !isValidTenantID(tenantID) {
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindInvalidRequest, "invalid tenant ID format"))
		return
	}
	if h.UserModulesDir == "" {
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindNotFound, fmt.Sprintf("tenant not found: %s", tenantID)))
		return
	}

	spec, ok := AggregateTenantSpec(h.UserModulesDir, tenantID, h.Log)
	if !ok {
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindNotFound, fmt.Sprintf("tenant not found: %s", tenantID)))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, spec)
}

func isValidTenantID(id string) bool {
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// ServeHTTP routes /_mik/* to the handlers above, matching the original
// runtime's MIK_API_PREFIX dispatch.
func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiPath := strings.TrimPrefix(r.URL.Path, "/_mik/")

	switch {
	case apiPath == "handlers":
		h.ServeHandlers(w, r)
	case apiPath == "openapi/platform":
		h.ServePlatformOpenAPI(w, r)
	case strings.HasPrefix(apiPath, "openapi/tenant/"):
		tenantID := strings.TrimPrefix(apiPath, "openapi/tenant/")
		h.ServeTenantOpenAPI(w, r, tenantID)
	default:
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindNotFound, fmt.Sprintf("unknown gateway endpoint: %s", apiPath)))
	}
}
