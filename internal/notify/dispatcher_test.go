package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeService records every body it is asked to send and can be programmed
// to fail the first n attempts or always.
type fakeService struct {
	mu         sync.Mutex
	bodies     []string
	failFirst  int
	alwaysFail bool
	mention    string
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) MentionTag() string { return f.mention }

func (f *fakeService) Send(_ context.Context, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, message)
	if f.alwaysFail {
		return errors.New("send failed")
	}
	if len(f.bodies) <= f.failFirst {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeService) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := sleepHook
	sleepHook = func(time.Duration) {}
	t.Cleanup(func() { sleepHook = orig })
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	noSleep(t)
	svc := &fakeService{failFirst: 2}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{})

	err := d.Deliver(context.Background(), []Destination{{ID: "ops"}}, Message{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := len(svc.sent()); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	noSleep(t)
	svc := &fakeService{alwaysFail: true}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{})

	err := d.Deliver(context.Background(), []Destination{{ID: "ops"}}, Message{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("Deliver succeeded against an always-failing service")
	}
	if got := len(svc.sent()); got != 3 {
		t.Fatalf("attempts = %d, want exactly 3", got)
	}
}

func TestMentionOnlyOnFirstAttempt(t *testing.T) {
	noSleep(t)
	svc := &fakeService{alwaysFail: true, mention: "@everyone"}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{})

	d.Deliver(context.Background(), []Destination{{ID: "ops", Mention: true}}, Message{Title: "t", Body: "body"})

	bodies := svc.sent()
	if len(bodies) != 3 {
		t.Fatalf("attempts = %d, want 3", len(bodies))
	}
	if bodies[0] != "@everyone\nbody" {
		t.Fatalf("first attempt body = %q, want mention prefix", bodies[0])
	}
	for i, b := range bodies[1:] {
		if b != "body" {
			t.Fatalf("retry %d body = %q, mention must not repeat", i+2, b)
		}
	}
}

func TestMentionSkippedWithoutMentioner(t *testing.T) {
	noSleep(t)
	// Generic webhook services have no broadcast-mention concept.
	svc := &fakeService{}
	plain := struct{ Service }{svc} // hides the MentionTag method
	d := NewDispatcher(map[string]Service{"ops": plain}, DispatcherOptions{})

	d.Deliver(context.Background(), []Destination{{ID: "ops", Mention: true}}, Message{Body: "body"})
	if bodies := svc.sent(); bodies[0] != "body" {
		t.Fatalf("body = %q, want unprefixed", bodies[0])
	}
}

func TestBatchIsolation(t *testing.T) {
	noSleep(t)
	bad := &fakeService{alwaysFail: true}
	good := &fakeService{}
	d := NewDispatcher(map[string]Service{"bad": bad, "good": good}, DispatcherOptions{})

	err := d.Deliver(context.Background(), []Destination{{ID: "bad"}, {ID: "good"}}, Message{Body: "b"})
	if err == nil {
		t.Fatal("expected error for the failing destination")
	}
	if got := len(good.sent()); got != 1 {
		t.Fatalf("healthy destination deliveries = %d, want 1", got)
	}
}

func TestDeliverUnknownDestination(t *testing.T) {
	noSleep(t)
	d := NewDispatcher(nil, DispatcherOptions{})
	err := d.Deliver(context.Background(), []Destination{{ID: "ghost"}}, Message{Body: "b"})
	if err == nil {
		t.Fatal("expected error for unknown destination")
	}
}

func TestDispatchQueuesWhenNotLive(t *testing.T) {
	svc := &fakeService{}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{})

	d.Dispatch([]Destination{{ID: "ops"}}, Message{Body: "b"})
	if got := d.QueueDepth(); got != 1 {
		t.Fatalf("queue depth = %d, want 1", got)
	}
	if got := len(svc.sent()); got != 0 {
		t.Fatalf("deliveries = %d, want none before Run", got)
	}

	// Empty destination sets are dropped outright, not queued.
	d.Dispatch(nil, Message{Body: "b"})
	if got := d.QueueDepth(); got != 1 {
		t.Fatalf("queue depth = %d after empty dispatch, want 1", got)
	}
}

func TestDrainQueueDelivers(t *testing.T) {
	noSleep(t)
	svc := &fakeService{}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{})
	d.Enqueue(&Pending{Destinations: []Destination{{ID: "ops"}}, Message: Message{Body: "b"}})

	d.drainQueue(context.Background())
	if got := d.QueueDepth(); got != 0 {
		t.Fatalf("queue depth = %d, want 0", got)
	}
	if got := len(svc.sent()); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
}

func TestDrainQueueRetryCeiling(t *testing.T) {
	noSleep(t)
	svc := &fakeService{alwaysFail: true}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{QueueMaxRetries: 5})
	d.Enqueue(&Pending{Destinations: []Destination{{ID: "ops"}}, Message: Message{Body: "b"}})

	// Four failed drains re-enqueue; the fifth drops the item.
	for i := 0; i < 4; i++ {
		d.drainQueue(context.Background())
		if got := d.QueueDepth(); got != 1 {
			t.Fatalf("drain %d: queue depth = %d, want 1", i+1, got)
		}
	}
	d.drainQueue(context.Background())
	if got := d.QueueDepth(); got != 0 {
		t.Fatalf("queue depth = %d after ceiling, want 0 (dropped)", got)
	}
	d.drainQueue(context.Background())
	if got := len(svc.sent()); got != 5*3 {
		t.Fatalf("total attempts = %d, want 15 (5 drains x 3 attempts, none after drop)", got)
	}
}

func TestRunMakesDispatchLive(t *testing.T) {
	noSleep(t)
	svc := &fakeService{}
	d := NewDispatcher(map[string]Service{"ops": svc}, DispatcherOptions{DrainInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()

	deadline := time.Now().Add(time.Second)
	for !d.live.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Dispatch([]Destination{{ID: "ops"}}, Message{Body: "b"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := len(svc.sent()); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	if got := d.QueueDepth(); got != 0 {
		t.Fatalf("queue depth = %d, want 0 on the live path", got)
	}

	cancel()
	<-runDone
	if d.live.Load() {
		t.Fatal("dispatcher still live after Run returned")
	}
}
