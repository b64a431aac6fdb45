package client

import (
	"context"
	"testing"

	cidpkg "parlor/internal/cid"
)

func TestBuildDialHeadersIncludesCID(t *testing.T) {
	ctx := cidpkg.WithCID(context.Background(), "unit-test-cid-42")
	h := buildDialHeaders(ctx, "test-agent/1.0")
	if got := h[cidpkg.HeaderName]; len(got) == 0 || got[0] != "unit-test-cid-42" {
		t.Fatalf("expected header %s=%s, got %v", cidpkg.HeaderName, "unit-test-cid-42", got)
	}
}

func TestBuildDialHeadersWithoutCID(t *testing.T) {
	h := buildDialHeaders(context.Background(), "test-agent/1.0")
	if got := h[cidpkg.HeaderName]; len(got) != 0 {
		t.Fatalf("expected no %s header, got %v", cidpkg.HeaderName, got)
	}
	if got := h["User-Agent"]; len(got) == 0 || got[0] != "test-agent/1.0" {
		t.Fatalf("expected User-Agent header, got %v", got)
	}
}
