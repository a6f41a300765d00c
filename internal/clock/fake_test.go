package clock

import (
	"testing"
	"time"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	ticker := c.NewTicker(3 * time.Second)
	defer ticker.Stop()

	c.Advance(2 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-ticker.C:
		if want := start.Add(3 * time.Second); !at.Equal(want) {
			t.Errorf("tick at %v, want %v", at, want)
		}
	default:
		t.Fatal("ticker did not fire after interval")
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	if n := c.ActiveTickers(); n != 1 {
		t.Fatalf("ActiveTickers() = %d, want 1", n)
	}
	ticker.Stop()
	if n := c.ActiveTickers(); n != 0 {
		t.Fatalf("ActiveTickers() after Stop = %d, want 0", n)
	}
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestWaitForTickers(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		c.WaitForTickers(1)
		close(done)
	}()

	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForTickers did not return after ticker creation")
	}
}
