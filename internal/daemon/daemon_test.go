package daemon

import (
	"context"
	"strings"
	"testing"

	"soundstage/internal/testsupport"
)

func TestStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	defer first.Stop(ctx)

	err = second.Start(ctx)
	if err == nil {
		second.Stop(ctx)
		t.Fatal("expected second instance to be rejected")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
