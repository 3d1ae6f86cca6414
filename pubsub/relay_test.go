package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ncobase/relay/ctxutil"
	"github.com/ncobase/relay/data/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records publishes and hands subscriptions back to the test.
type fakeTransport struct {
	mu         sync.Mutex
	publish    func(ctx context.Context, channel string, payload []byte) error
	payloads   [][]byte
	calls      atomic.Int32
	subs       map[string]DeliverFunc
	subscribes int
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]DeliverFunc)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	fn := f.publish
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, channel, payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, channel string, deliver DeliverFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[channel] = deliver
	f.subscribes++
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, channel)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) send(channel string, data []byte) {
	f.mu.Lock()
	deliver := f.subs[channel]
	f.mu.Unlock()
	if deliver != nil {
		deliver(context.Background(), channel, data)
	}
}

// eventLog counts terminal events per publication id.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	byID   map[string]int
}

func watch(t *testing.T, r *Relay) *eventLog {
	t.Helper()
	log := &eventLog{byID: make(map[string]int)}
	for _, kind := range []EventKind{EventPublished, EventTimeout, EventError} {
		require.NoError(t, r.On(kind, func(ev Event) {
			log.mu.Lock()
			defer log.mu.Unlock()
			log.events = append(log.events, ev)
			log.byID[ev.PublicationID]++
		}))
	}
	return log
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func envelope(typ string, payload any) []byte {
	p, _ := json.Marshal(payload)
	data, _ := json.Marshal(map[string]any{
		"id":        "m1",
		"type":      typ,
		"payload":   json.RawMessage(p),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"metadata":  map[string]any{"version": "1.0", "priority": "high", "source": "test"},
		"extra":     "ignored",
	})
	return data
}

func TestPublishSuccess(t *testing.T) {
	ft := newFakeTransport()
	collector := metrics.NewDataCollector()
	r := NewRelay(ft, WithSource("agent-1"), WithCollector(collector))
	log := watch(t, r)

	pub, err := r.Publish(context.Background(), "agents", map[string]int{"x": 1},
		WithPriority(PriorityHigh), WithMetadata(map[string]any{"trace": "t1", "source": "spoofed"}), WithType("signal"))
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.NotEmpty(t, pub.ID)
	assert.Equal(t, PriorityHigh, pub.Priority)

	events := log.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventPublished, events[0].Kind)
	assert.Equal(t, pub.ID, events[0].Publication.ID)
	assert.Empty(t, r.ActivePublications())

	require.Len(t, ft.payloads, 1)
	msg, err := DecodeEnvelope("agents", ft.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, pub.ID, msg.ID)
	assert.Equal(t, "signal", msg.Type)
	assert.JSONEq(t, `{"x":1}`, string(msg.Payload))
	assert.Equal(t, PriorityHigh, msg.Priority())
	assert.Equal(t, "agent-1", msg.Source())
	assert.Equal(t, EnvelopeVersion, msg.Metadata["version"])
	assert.Equal(t, "t1", msg.Metadata["trace"])
	assert.NotEmpty(t, msg.TraceID())

	stats := collector.GetStats()["messaging"].(map[string]any)
	assert.Equal(t, int64(1), stats["published"])
}

func TestPublishCarriesContextValues(t *testing.T) {
	ft := newFakeTransport()
	r := NewRelay(ft, WithSource("default"))

	ctx := ctxutil.SetTraceID(context.Background(), "trace-1")
	ctx = ctxutil.SetSource(ctx, "planner")
	_, err := r.Publish(ctx, "ch", 1)
	require.NoError(t, err)

	msg, err := DecodeEnvelope("ch", ft.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "trace-1", msg.TraceID())
	assert.Equal(t, "planner", msg.Source())

	var seen string
	require.NoError(t, r.Subscribe(context.Background(), "ch", func(ctx context.Context, _ *Message) error {
		seen = ctxutil.GetTraceID(ctx)
		return nil
	}))
	ft.send("ch", ft.payloads[0])
	assert.Equal(t, "trace-1", seen)
}

func TestPublishRetriesWithFixedDelay(t *testing.T) {
	ft := newFakeTransport()
	var n atomic.Int32
	ft.publish = func(context.Context, string, []byte) error {
		if n.Add(1) < 3 {
			return errors.New("unavailable")
		}
		return nil
	}
	r := NewRelay(ft, WithRetry(3, 20*time.Millisecond), WithPublishTimeout(time.Second))
	log := watch(t, r)

	start := time.Now()
	_, err := r.Publish(context.Background(), "ch", "hello")
	require.NoError(t, err)

	assert.Equal(t, int32(3), ft.calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Len(t, log.snapshot(), 1)
	assert.Equal(t, EventPublished, log.snapshot()[0].Kind)
}

func TestPublishRetriesExhausted(t *testing.T) {
	ft := newFakeTransport()
	boom := errors.New("broker down")
	ft.publish = func(context.Context, string, []byte) error { return boom }
	r := NewRelay(ft, WithRetry(2, time.Millisecond), WithPublishTimeout(time.Second))
	log := watch(t, r)

	pub, err := r.Publish(context.Background(), "ch", "hello")
	assert.Nil(t, pub)

	var rerr *RetriesExhaustedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), ft.calls.Load())

	events := log.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, rerr.Publication.ID, events[0].Publication.ID)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.Empty(t, r.ActivePublications())
}

func TestPublishZeroRetries(t *testing.T) {
	ft := newFakeTransport()
	ft.publish = func(context.Context, string, []byte) error { return errors.New("no") }
	r := NewRelay(ft, WithRetry(0, time.Second))

	_, err := r.Publish(context.Background(), "ch", 1)
	var rerr *RetriesExhaustedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Attempts)
}

func TestPublishTimeoutOnStalledTransport(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	ft.publish = func(context.Context, string, []byte) error {
		<-release
		return nil
	}
	r := NewRelay(ft)
	log := watch(t, r)

	start := time.Now()
	pub, err := r.Publish(context.Background(), "ch", map[string]int{"x": 1}, WithExpiration(10*time.Millisecond))
	elapsed := time.Since(start)
	assert.Nil(t, pub)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Less(t, elapsed, 500*time.Millisecond)

	events := log.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventTimeout, events[0].Kind)
	assert.Equal(t, terr.PublicationID, events[0].PublicationID)
	assert.Empty(t, r.ActivePublications())

	// the late success is discarded
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestTimeoutStopsRetries(t *testing.T) {
	ft := newFakeTransport()
	ft.publish = func(context.Context, string, []byte) error { return errors.New("down") }
	r := NewRelay(ft, WithRetry(5, 50*time.Millisecond), WithPublishTimeout(20*time.Millisecond))
	log := watch(t, r)

	_, err := r.Publish(context.Background(), "ch", 1)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), ft.calls.Load())
	require.Len(t, log.snapshot(), 1)
	assert.Equal(t, EventTimeout, log.snapshot()[0].Kind)
}

func TestPublishContextCancelled(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	defer close(release)
	ft.publish = func(context.Context, string, []byte) error {
		<-release
		return nil
	}
	r := NewRelay(ft, WithPublishTimeout(time.Minute))
	log := watch(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Publish(ctx, "ch", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, log.snapshot(), 1)
	assert.Equal(t, EventError, log.snapshot()[0].Kind)
}

func TestTerminalEventExclusivity(t *testing.T) {
	ft := newFakeTransport()
	var n atomic.Int32
	ft.publish = func(context.Context, string, []byte) error {
		switch n.Add(1) % 3 {
		case 0:
			return errors.New("fail")
		case 1:
			time.Sleep(30 * time.Millisecond)
		}
		return nil
	}
	r := NewRelay(ft, WithRetry(1, time.Millisecond), WithPublishTimeout(15*time.Millisecond))
	log := watch(t, r)

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub, err := r.Publish(context.Background(), "ch", i)
			var terr *TimeoutError
			var rerr *RetriesExhaustedError
			switch {
			case err == nil:
				ids <- pub.ID
			case errors.As(err, &terr):
				ids <- terr.PublicationID
			case errors.As(err, &rerr):
				ids <- rerr.Publication.ID
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(ids)

	// let any late attempt finish
	time.Sleep(100 * time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	seen := 0
	for id := range ids {
		seen++
		assert.Equal(t, 1, log.byID[id], id)
	}
	assert.Equal(t, 50, seen)
	assert.Len(t, log.events, 50)
}

func TestSubscribeDispatchesAndReplaces(t *testing.T) {
	ft := newFakeTransport()
	r := NewRelay(ft)
	ctx := context.Background()

	var first, second []string
	require.NoError(t, r.Subscribe(ctx, "ch", func(_ context.Context, m *Message) error {
		first = append(first, m.Type)
		return nil
	}))
	ft.send("ch", envelope("a", 1))

	require.NoError(t, r.Subscribe(ctx, "ch", func(_ context.Context, m *Message) error {
		var v map[string]string
		require.NoError(t, m.Decode(&v))
		second = append(second, m.Type+":"+v["k"])
		return nil
	}))
	ft.send("ch", envelope("b", map[string]string{"k": "v"}))

	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"b:v"}, second)
	assert.Equal(t, 1, ft.subscribes)

	require.NoError(t, r.Unsubscribe(ctx, "ch"))
	assert.Empty(t, ft.subs)
	require.NoError(t, r.Unsubscribe(ctx, "ch"))
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	ft := newFakeTransport()
	collector := metrics.NewDataCollector()
	r := NewRelay(ft, WithCollector(collector))

	var got []string
	require.NoError(t, r.Subscribe(context.Background(), "ch", func(_ context.Context, m *Message) error {
		got = append(got, m.Type)
		return nil
	}))

	ft.send("ch", []byte("not json"))
	ft.send("ch", []byte(`{"payload":1,"timestamp":"2024-01-01T00:00:00Z"}`))
	ft.send("ch", []byte(`{"type":"x","timestamp":"2024-01-01T00:00:00Z"}`))
	ft.send("ch", []byte(`{"type":"x","payload":1}`))
	ft.send("ch", []byte(`{"type":"x","payload":null,"timestamp":"2024-01-01T00:00:00Z"}`))
	ft.send("ch", envelope("ok", 1))

	assert.Equal(t, []string{"ok"}, got)
	stats := collector.GetStats()["messaging"].(map[string]any)
	assert.Equal(t, int64(6), stats["consumed"])
	assert.Equal(t, int64(5), stats["consume_errors"])
}

func TestHandlerFailuresDoNotStopDelivery(t *testing.T) {
	ft := newFakeTransport()
	r := NewRelay(ft)

	var calls int
	require.NoError(t, r.Subscribe(context.Background(), "ch", func(_ context.Context, m *Message) error {
		calls++
		switch m.Type {
		case "panic":
			panic("boom")
		case "err":
			return errors.New("bad")
		}
		return nil
	}))

	ft.send("ch", envelope("panic", 1))
	ft.send("ch", envelope("err", 1))
	ft.send("ch", envelope("ok", 1))
	assert.Equal(t, 3, calls)
}

func TestListenerPanicDoesNotBreakPublish(t *testing.T) {
	r := NewRelay(newFakeTransport())
	require.NoError(t, r.On(EventPublished, func(Event) { panic("listener") }))

	var called bool
	require.NoError(t, r.On(EventPublished, func(Event) { called = true }))

	_, err := r.Publish(context.Background(), "ch", 1)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestOnRejectsUnknownKind(t *testing.T) {
	r := NewRelay(newFakeTransport())
	assert.Error(t, r.On(EventKind(0), func(Event) {}))
	assert.Error(t, r.On(EventKind(9), func(Event) {}))
	assert.Error(t, r.On(EventPublished, nil))
	assert.Equal(t, "timeout", EventTimeout.String())
}

func TestClosedRelay(t *testing.T) {
	ft := newFakeTransport()
	r := NewRelay(ft)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, ft.closed)

	_, err := r.Publish(context.Background(), "ch", 1)
	assert.ErrorIs(t, err, ErrRelayClosed)
	assert.ErrorIs(t, r.Subscribe(context.Background(), "ch", func(context.Context, *Message) error { return nil }), ErrRelayClosed)
}

func TestPublishValidation(t *testing.T) {
	r := NewRelay(newFakeTransport())
	_, err := r.Publish(context.Background(), "", 1)
	assert.Error(t, err)

	_, err = r.Publish(context.Background(), "ch", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, r.ActivePublications())
}

func TestActivePublications(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	ft.publish = func(context.Context, string, []byte) error {
		<-release
		return nil
	}
	r := NewRelay(ft, WithPublishTimeout(time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := r.Publish(context.Background(), "ch", 1)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(r.ActivePublications()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ch", r.ActivePublications()[0].Channel)

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, r.ActivePublications())
}

func ExampleRelay_Publish() {
	r := NewRelay(newFakeTransport(), WithSource("example"))
	_ = r.On(EventPublished, func(ev Event) {
		fmt.Println("published on", ev.Publication.Channel)
	})

	_, err := r.Publish(context.Background(), "agents", map[string]string{"status": "ready"})
	fmt.Println(err)
	// Output:
	// published on agents
	// <nil>
}
