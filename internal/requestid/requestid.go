// Package requestid provides correlation ids for outgoing API requests.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the correlation header sent on every API request.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, or "" when none was set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// New generates a fresh request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Stamp sets the correlation header on req from its context, generating an ID when the
// context carries none. It returns the ID that was set.
func Stamp(req *http.Request) string {
	id := FromContext(req.Context())
	if id == "" {
		id = uuid.New().String()
	}
	req.Header.Set(Header, id)
	return id
}
