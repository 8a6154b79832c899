package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tabletalk/internal/relay"
)

type fakeSource struct {
	mu      sync.Mutex
	expired []string
	deleted []string
	failOn  string
}

func (f *fakeSource) ExpiredRoomCodes(ctx context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.expired) > limit {
		return f.expired[:limit], nil
	}
	return f.expired, nil
}

func (f *fakeSource) Delete(ctx context.Context, roomCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if roomCode == f.failOn {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, roomCode)
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []relay.RoomEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, event relay.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func TestSweepDeletesExpiredAndPublishes(t *testing.T) {
	source := &fakeSource{expired: []string{"AMBER42", "BRASS07"}}
	pub := &capturingPublisher{}
	s := New(source, pub, DefaultConfig(), clockwork.NewFakeClock())

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(source.deleted) != 2 {
		t.Fatalf("deleted %d rooms, want 2", len(source.deleted))
	}
	if len(pub.events) != 2 || pub.events[0].Type != relay.EventRoomExpired {
		t.Fatalf("unexpected events %+v", pub.events)
	}
}

func TestSweepContinuesPastDeleteFailure(t *testing.T) {
	source := &fakeSource{expired: []string{"AMBER42", "BRASS07"}, failOn: "AMBER42"}
	pub := &capturingPublisher{}
	s := New(source, pub, DefaultConfig(), clockwork.NewFakeClock())

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(source.deleted) != 1 || source.deleted[0] != "BRASS07" {
		t.Fatalf("deleted = %v, want [BRASS07]", source.deleted)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	source := &fakeSource{expired: []string{"A01", "B02", "C03"}}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	s := New(source, &capturingPublisher{}, cfg, clockwork.NewFakeClock())

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(source.deleted) != 2 {
		t.Fatalf("deleted %d rooms, want 2", len(source.deleted))
	}
}

func TestRunSweepsOnTicks(t *testing.T) {
	source := &fakeSource{expired: []string{"AMBER42"}}
	pub := &capturingPublisher{}
	clock := clockwork.NewFakeClock()
	cfg := Config{Interval: time.Minute, BatchSize: 10}
	s := New(source, pub, cfg, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	deadline := time.After(3 * time.Second)
	for {
		source.mu.Lock()
		n := len(source.deleted)
		source.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no sweep after a tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
