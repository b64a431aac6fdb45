package ratelimit_test

import (
	"testing"
	"time"

	"parlor/internal/ratelimit"
)

func TestAllow_WithinBudget(t *testing.T) {
	l := ratelimit.New(30, time.Second)
	for i := 0; i < 30; i++ {
		if !l.Allow("c1") {
			t.Fatalf("message %d rejected within budget", i+1)
		}
	}
}

func TestAllow_RejectsOverBudget(t *testing.T) {
	l := ratelimit.New(30, time.Second)
	for i := 0; i < 30; i++ {
		l.Allow("c1")
	}
	if l.Allow("c1") {
		t.Fatalf("31st message in window should be rejected")
	}
}

func TestAllow_WindowRollover(t *testing.T) {
	now := time.Unix(1000, 0)
	l := ratelimit.New(2, time.Second)
	l.Now = func() time.Time { return now }

	l.Allow("c1")
	l.Allow("c1")
	if l.Allow("c1") {
		t.Fatalf("expected rejection before rollover")
	}

	now = now.Add(time.Second)
	if !l.Allow("c1") {
		t.Fatalf("expected fresh budget after window elapsed")
	}
}

func TestAllow_PerConnectionBuckets(t *testing.T) {
	l := ratelimit.New(1, time.Second)
	if !l.Allow("a") {
		t.Fatalf("first message for a rejected")
	}
	if !l.Allow("b") {
		t.Fatalf("b should have its own bucket")
	}
	if l.Allow("a") {
		t.Fatalf("second message for a should be rejected")
	}
}

func TestForget_ResetsBucket(t *testing.T) {
	l := ratelimit.New(1, time.Second)
	l.Allow("c1")
	l.Forget("c1")
	if !l.Allow("c1") {
		t.Fatalf("bucket should be fresh after Forget")
	}
}
