package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/repoimport/internal/core"
)

// actorHeader carries the id of the user an import acts on behalf of.
const actorHeader = "X-User-ID"

// WithRequestMetadata adds the client IP and User-Agent to ctx for logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already replaced for proxied requests.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// actorFromRequest parses the acting user id. A missing header yields 0.
func actorFromRequest(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(actorHeader))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
