package shared_test

import (
	"context"
	"testing"

	"github.com/x-zero2026/xz-wallet-contract/internal/shared"
)

func TestTraceIDDefaultsToDash(t *testing.T) {
	if got := shared.TraceID(context.Background()); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := shared.WithTraceID(context.Background(), "trace-123")
	if got := shared.TraceID(ctx); got != "trace-123" {
		t.Fatalf("expected trace-123, got %q", got)
	}
}

func TestEnsureTraceIDGeneratesOnce(t *testing.T) {
	ctx := shared.EnsureTraceID(context.Background())
	first := shared.TraceID(ctx)
	if first == "-" || first == "" {
		t.Fatalf("expected generated trace id, got %q", first)
	}
	ctx2 := shared.EnsureTraceID(ctx)
	if got := shared.TraceID(ctx2); got != first {
		t.Fatalf("expected trace id preserved, got %q want %q", got, first)
	}
}

func TestActorRoundTrip(t *testing.T) {
	ctx := shared.WithActor(context.Background(), "did:xz:alice")
	if got := shared.Actor(ctx); got != "did:xz:alice" {
		t.Fatalf("expected actor, got %q", got)
	}
	if got := shared.Actor(context.Background()); got != "" {
		t.Fatalf("expected empty actor, got %q", got)
	}
}

func TestTaskIDRoundTrip(t *testing.T) {
	ctx := shared.WithTaskID(context.Background(), "task-1")
	if got := shared.TaskID(ctx); got != "task-1" {
		t.Fatalf("expected task-1, got %q", got)
	}
}
