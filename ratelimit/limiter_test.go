package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := New()
	for range 100 {
		if !l.Allow("openphone", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l := New()

	// Bucket starts full with a burst of 2.
	if !l.Allow("openphone", 2) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("openphone", 2) {
		t.Fatal("second call should be allowed")
	}
	if l.Allow("openphone", 2) {
		t.Fatal("third call should be denied")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New()
	l.Allow("openphone", 1)
	if l.Allow("openphone", 1) {
		t.Fatal("openphone should be exhausted")
	}
	if !l.Allow("bland", 1) {
		t.Fatal("bland should have its own bucket")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := New()
	for range 10 {
		l.Allow("resend", 10)
	}
	if l.Allow("resend", 10) {
		t.Fatal("should be denied after exhausting bucket")
	}

	time.Sleep(200 * time.Millisecond)

	if !l.Allow("resend", 10) {
		t.Fatal("should be allowed after refill")
	}
}

func TestWait_Unlimited(t *testing.T) {
	if err := New().Wait(context.Background(), "openphone", 0); err != nil {
		t.Fatalf("Wait(0) should return nil, got %v", err)
	}
}

func TestWait_ContextDeadline(t *testing.T) {
	l := New()
	l.Allow("openphone", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "openphone", 1); err == nil {
		t.Fatal("Wait should fail when the next token is past the deadline")
	}
}

func TestWait_EventuallyAllowed(t *testing.T) {
	l := New()
	for range 20 {
		l.Allow("bland", 20)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "bland", 20); err != nil {
		t.Fatalf("Wait should succeed, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Wait should have blocked for at least some time")
	}
}

func TestReset(t *testing.T) {
	l := New()
	l.Allow("meta", 1)
	if l.Allow("meta", 1) {
		t.Fatal("should be denied")
	}

	l.Reset("meta")

	if !l.Allow("meta", 1) {
		t.Fatal("should be allowed after reset")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("openphone", 100)
		}()
	}
	wg.Wait()
	close(allowed)

	trueCount := 0
	for v := range allowed {
		if v {
			trueCount++
		}
	}

	// 100 tokens to start, plus whatever refilled while the goroutines ran.
	if trueCount < 100 || trueCount > 110 {
		t.Fatalf("expected about 100 allowed, got %d", trueCount)
	}
}
