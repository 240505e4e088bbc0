package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
)

const (
	apiVersionHeader = "X-Coach-Version"
	// Browsers cannot set headers on a websocket handshake, so the coaching
	// socket may also name its version in the query string.
	apiVersionQuery = "v"
)

type protocolVersionKey struct{}

// ProtocolVersionFrom returns the negotiated coaching protocol version.
func ProtocolVersionFrom(ctx context.Context) string {
	if v, ok := ctx.Value(protocolVersionKey{}).(string); ok && v != "" {
		return v
	}
	return protocol.Version
}

// ProtocolVersion negotiates the envelope contract for /v1 routes, including
// the coaching websocket. Requests that name no version get the current one;
// requests for any other version are refused before the upgrade.
func ProtocolVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !isV1Path(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		versions := parseHeaderCSVValues(r.Header.Values(apiVersionHeader))
		if q := strings.TrimSpace(r.URL.Query().Get(apiVersionQuery)); q != "" {
			versions = append(versions, q)
		}
		for _, version := range versions {
			if !protocol.SupportsVersion(version) {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusBadRequest, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "unsupported coaching protocol version " + version,
					Param:     apiVersionHeader,
					Code:      "unsupported_version",
					RequestID: reqID,
				})
				return
			}
		}

		// The upgrade response is written by the websocket library, which
		// ignores these headers; the socket reports its version in the
		// connect status frame instead.
		if !isWebSocketUpgrade(r) {
			w.Header().Set(apiVersionHeader, protocol.Version)
		}
		ctx := context.WithValue(r.Context(), protocolVersionKey{}, protocol.Version)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isV1Path(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/")
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func parseHeaderCSVValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			out = append(out, trimmed)
		}
	}
	return out
}
