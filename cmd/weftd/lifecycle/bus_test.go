package lifecycle

import (
	"context"
	"testing"

	"github.com/weftworks/weft/common/sdk"
)

type testLogger struct{ t *testing.T }

func (l *testLogger) Debug(msg string, args ...any) { l.t.Logf("[DEBUG] %s %v", msg, args) }
func (l *testLogger) Info(msg string, args ...any)  { l.t.Logf("[INFO] %s %v", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.t.Logf("[WARN] %s %v", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.t.Logf("[ERROR] %s %v", msg, args) }

func event(executionID string, typ sdk.EventType) *sdk.Event {
	return &sdk.Event{Type: typ, ExecutionID: executionID}
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(&testLogger{t})
	ctx := context.Background()

	ch1, cancel1 := bus.Subscribe("exec-1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("exec-1")
	defer cancel2()
	other, cancelOther := bus.Subscribe("exec-2")
	defer cancelOther()

	bus.Publish(ctx, event("exec-1", sdk.EventNodeStart))

	for i, ch := range []<-chan *sdk.Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != sdk.EventNodeStart {
				t.Fatalf("subscriber %d got %s", i, e.Type)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
	select {
	case e := <-other:
		t.Fatalf("subscriber of another execution got %s", e.Type)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(&testLogger{t})

	ch, cancel := bus.Subscribe("exec-1")
	if got := bus.Subscribers("exec-1"); got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}
	cancel()
	cancel() // safe to call twice

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	if got := bus.Subscribers("exec-1"); got != 0 {
		t.Fatalf("Subscribers after cancel = %d, want 0", got)
	}

	// Publishing to a topic with no subscribers is a no-op.
	bus.Publish(context.Background(), event("exec-1", sdk.EventNodeComplete))
}

func TestBusDropsWhenSubscriberLags(t *testing.T) {
	bus := NewBus(&testLogger{t})
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	// Overfill the subscriber buffer; the publisher must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(context.Background(), event("exec-1", sdk.EventNodeStart))
	}
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", got, subscriberBuffer)
	}
}

type countingPublisher struct{ calls int }

func (p *countingPublisher) Publish(context.Context, *sdk.Event) { p.calls++ }

func TestFanout(t *testing.T) {
	a := &countingPublisher{}
	b := &countingPublisher{}
	f := NewFanout(a, nil, b)

	f.Publish(context.Background(), event("exec-1", sdk.EventNodeStart))
	f.Publish(context.Background(), event("exec-1", sdk.EventNodeComplete))

	if a.calls != 2 || b.calls != 2 {
		t.Fatalf("calls = %d/%d, want 2/2", a.calls, b.calls)
	}
}

func TestExecutionStatusOf(t *testing.T) {
	tests := []struct {
		typ  sdk.EventType
		want string
	}{
		{sdk.EventExecutionPaused, "PAUSED"},
		{sdk.EventExecutionResumed, "RUNNING"},
		{sdk.EventExecutionCompleted, "COMPLETED"},
		{sdk.EventExecutionFailed, "FAILED"},
		{sdk.EventExecutionStopped, "STOPPED"},
		{sdk.EventNodeStart, ""},
		{sdk.EventNodeComplete, ""},
		{sdk.EventInteractionRequired, ""},
	}
	for _, tt := range tests {
		if got := executionStatusOf(event("x", tt.typ)); got != tt.want {
			t.Errorf("executionStatusOf(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
