package cid

import "context"

// ContextKey is the type used for storing CID in context to avoid collisions.
type ContextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id.
//
// Incoming requests that already carry this header keep their id; the
// middleware only generates a fresh KSUID when none is present.
const HeaderName = "X-Parlor-CID"

// AttributeName is the span attribute key used to attach CID to spans.
const AttributeName = "parlor.cid"

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// CIDFromContext extracts the correlation id from context, if present.
func CIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}

// AddHeaderFromContext copies the context's correlation id, if any, into an
// outbound HTTP header map.
func AddHeaderFromContext(headers map[string][]string, ctx context.Context) {
	if cid := CIDFromContext(ctx); cid != "" {
		headers[HeaderName] = []string{cid}
	}
}
