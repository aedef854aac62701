package decoder

import (
	"context"
	"testing"
	"time"
)

func TestGenerationNotifierBumpWakesWaiters(t *testing.T) {
	n := newGenerationNotifier()
	done := make(chan error, 1)
	go func() {
		done <- n.wait(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	n.Bump()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after Bump")
	}
}

func TestGenerationNotifierGenIncrements(t *testing.T) {
	n := newGenerationNotifier()
	if n.Gen() != 0 {
		t.Fatalf("Gen() = %d, want 0", n.Gen())
	}
	n.Bump()
	n.Bump()
	if n.Gen() != 2 {
		t.Fatalf("Gen() = %d, want 2", n.Gen())
	}
}

func TestGenerationNotifierWaitContextCancel(t *testing.T) {
	n := newGenerationNotifier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := n.wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
