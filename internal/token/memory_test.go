package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRegistryRoundTrip(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	ctx := context.Background()

	tok, err := reg.Issue(ctx, "/tmp/out.pdf", "report_pages_1_to_3.pdf")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	entry, err := reg.Resolve(ctx, tok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.FilePath != "/tmp/out.pdf" || entry.FileName != "report_pages_1_to_3.pdf" {
		t.Fatalf("entry mismatch: %#v", entry)
	}
}

func TestMemoryRegistryUnknownToken(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	if _, err := reg.Resolve(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRegistryExpiry(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	ctx := context.Background()

	tok, err := reg.Issue(ctx, "/tmp/out.pdf", "out.pdf")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Advance the registry clock past the expiration window.
	reg.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := reg.Resolve(ctx, tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired token to resolve as ErrNotFound, got %v", err)
	}

	// Lazy deletion should have removed the entry entirely.
	reg.mu.Lock()
	_, ok := reg.entries[tok]
	reg.mu.Unlock()
	if ok {
		t.Fatalf("expired entry not removed")
	}
}

func TestMemoryRegistryIndependentTokens(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	ctx := context.Background()

	tok1, err := reg.Issue(ctx, "/tmp/out.pdf", "out.pdf")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tok2, err := reg.Issue(ctx, "/tmp/out.pdf", "out.pdf")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok1 == tok2 {
		t.Fatalf("expected distinct tokens for repeated issue")
	}
	if _, err := reg.Resolve(ctx, tok1); err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	if _, err := reg.Resolve(ctx, tok2); err != nil {
		t.Fatalf("resolve second: %v", err)
	}
}
