package stream

import (
	"context"
	"testing"
	"time"
)

func drain(l *Listener) int {
	n := 0
	for {
		select {
		case <-l.C:
			n++
		default:
			return n
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	if b.ListenerCount() != 0 {
		t.Fatalf("initial ListenerCount = %d, want 0", b.ListenerCount())
	}

	l1 := b.Subscribe()
	l2 := b.SubscribeBuffered(4)
	if b.ListenerCount() != 2 {
		t.Errorf("ListenerCount = %d, want 2", b.ListenerCount())
	}
	if cap(l2.C) != 4 {
		t.Errorf("buffered cap = %d, want 4", cap(l2.C))
	}

	b.Unsubscribe(l1)
	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", b.ListenerCount())
	}
	select {
	case <-l1.Done():
	default:
		t.Error("Done not closed after unsubscribe")
	}
	b.Unsubscribe(l2)
}

func TestBroadcastDeliversToAll(t *testing.T) {
	b := NewBroadcaster()
	listeners := []*Listener{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	frame := []int16{100, 200, 300, 400}
	source <- frame

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if len(got) != len(frame) || got[0] != 100 {
				t.Errorf("listener %d got %v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d timed out", i)
		}
	}
	if b.Frames() != 1 {
		t.Errorf("Frames = %d, want 1", b.Frames())
	}
}

func TestBroadcastDropsSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.SubscribeBuffered(10)
	fast := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 100)
	go b.Run(ctx, source)

	for i := 0; i < 50; i++ {
		source <- []int16{int16(i)}
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Frames() < 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if n := drain(fast); n != 50 {
		t.Errorf("fast listener got %d frames, want 50", n)
	}
	if n := drain(slow); n != 10 {
		t.Errorf("slow listener got %d frames, want 10", n)
	}
	if slow.Dropped() != 40 {
		t.Errorf("slow Dropped = %d, want 40", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast Dropped = %d, want 0", fast.Dropped())
	}
}

func TestBroadcastStops(t *testing.T) {
	tests := []struct {
		name string
		stop func(cancel context.CancelFunc, source chan []int16)
	}{
		{"context cancel", func(cancel context.CancelFunc, _ chan []int16) { cancel() }},
		{"source closed", func(_ context.CancelFunc, source chan []int16) { close(source) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			source := make(chan []int16, 10)

			done := make(chan struct{})
			go func() {
				b.Run(ctx, source)
				close(done)
			}()
			tt.stop(cancel, source)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("broadcaster did not stop")
			}
		})
	}
}
