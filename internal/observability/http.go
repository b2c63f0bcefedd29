package observability

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// IdentityFromRequest collects the connection identity of a UI client.
func IdentityFromRequest(r *http.Request, userID string) Identity {
	return Identity{
		UserID:   userID,
		DeviceID: r.Header.Get("X-Device-Id"),
		IP:       IPFromRequest(r),
	}
}

func RequestIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("request_id")
}

func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

type requestIDKey struct{}

// WithRequestID stores the request id for code that only sees a context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
