package httpapi

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// WrapH2C implements spec.md's "HTTP/2 cleartext (prior-knowledge) is
// opt-in per listener" connection-handling rule. A listener defaults to
// plain HTTP/1.1 (handler returned unchanged); passing enabled=true wraps
// it so a client that opens the connection with the HTTP/2 client preface
// is upgraded in place, with no TLS and no Upgrade-header round trip.
func WrapH2C(handler http.Handler, enabled bool) http.Handler {
	if !enabled {
		return handler
	}
	return h2c.NewHandler(handler, &http2.Server{})
}
