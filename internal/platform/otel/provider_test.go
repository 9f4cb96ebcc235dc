package otel

import (
	"context"
	"testing"
)

func TestSetupDisabledByDefault(t *testing.T) {
	t.Setenv("BFLAUNCHER_OTEL_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), "coordinator")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupExplicitlyDisabled(t *testing.T) {
	t.Setenv("BFLAUNCHER_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("BFLAUNCHER_OTEL_ENABLED", "false")
	shutdown, err := Setup(context.Background(), "coordinator")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}
