package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dufeut/mik/internal/mikerrors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMikError writes the mandated {"error","message"} body, the
// X-Mik-Error-Kind header, and the status the taxonomy assigns to the kind.
func WriteMikError(w http.ResponseWriter, err error) {
	kind := mikerrors.KindOf(err)
	w.Header().Set("X-Mik-Error-Kind", string(kind))
	WriteJSON(w, kind.Status(), map[string]string{
		"error":   string(kind),
		"message": err.Error(),
	})
}

// WriteHandlerHeader sets X-Mik-Handler on a successful response.
func WriteHandlerHeader(w http.ResponseWriter, handler string) {
	w.Header().Set("X-Mik-Handler", handler)
}
