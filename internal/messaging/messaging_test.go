package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
)

type testAgent struct {
	*identity.Identity
	mu       sync.Mutex
	received []*Envelope
	reply    Payload
	notify   chan *Envelope
}

func newTestAgent(t *testing.T, name string, index uint32) *testAgent {
	t.Helper()
	id, err := identity.Derive(name, "test seed phrase", index)
	require.NoError(t, err)
	return &testAgent{Identity: id, notify: make(chan *Envelope, 8)}
}

func (a *testAgent) HandleMessage(_ context.Context, env *Envelope) (Payload, error) {
	a.mu.Lock()
	a.received = append(a.received, env)
	a.mu.Unlock()
	a.notify <- env
	if env.Schema == SchemaReply {
		return nil, nil
	}
	return a.reply, nil
}

func waitFor(t *testing.T, ch <-chan *Envelope) *Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for envelope")
		return nil
	}
}

func TestEnvelopeSealAndVerify(t *testing.T) {
	sender := newTestAgent(t, "journal", 0)
	env, err := NewEnvelope(sender.Address(), "agent00", SchemaRequest, Payload{"user_id": "u1"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, env.Seal(sender))
	require.NoError(t, env.Verify())

	raw, err := env.Encode()
	require.NoError(t, err)
	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)
	require.NoError(t, parsed.Verify())

	msg, err := parsed.Message()
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.String("user_id"))

	parsed.Target = "agent-other"
	assert.Equal(t, xerrors.CodeEnvelopeInvalid, xerrors.CodeOf(parsed.Verify()))
}

func TestEnvelopeExpiredAndUnsigned(t *testing.T) {
	sender := newTestAgent(t, "journal", 0)
	env, err := NewEnvelope(sender.Address(), "agent00", SchemaRequest, Payload{}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, xerrors.CodeEnvelopeInvalid, xerrors.CodeOf(env.Verify()))

	env.Expires = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, env.Seal(sender))
	assert.Equal(t, xerrors.CodeEnvelopeInvalid, xerrors.CodeOf(env.Verify()))

	other := newTestAgent(t, "exercise", 1)
	assert.Error(t, env.Seal(other))
}

func TestRouterUnknownTarget(t *testing.T) {
	sender := newTestAgent(t, "journal", 0)
	env, err := NewEnvelope(sender.Address(), "agentmissing", SchemaRequest, Payload{}, 0)
	require.NoError(t, err)
	require.NoError(t, env.Seal(sender))

	_, err = NewRouter().Dispatch(context.Background(), env)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestBusCallLocal(t *testing.T) {
	router := NewRouter()
	caller := newTestAgent(t, "assistant", 5)
	target := newTestAgent(t, "guide", 4)
	target.reply = Payload{"success": true, "recommended_feature": "Journaling"}
	router.Register(target.Address(), target)

	bus := NewBus(router)
	reply, err := bus.Call(context.Background(), caller, target.Address(), Payload{"query": "help"})
	require.NoError(t, err)
	assert.Equal(t, "Journaling", reply.String("recommended_feature"))

	_, err = bus.Call(context.Background(), caller, "agentunknown", Payload{})
	assert.Equal(t, xerrors.CodeAgentNotConfigured, xerrors.CodeOf(err))
}

func TestBusSendThroughQueueRepliesToSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := NewRouter()
	journal := newTestAgent(t, "journal", 0)
	exercise := newTestAgent(t, "exercise", 1)
	exercise.reply = Payload{"success": true}
	router.Register(journal.Address(), journal)
	router.Register(exercise.Address(), exercise)

	queue := NewMemoryQueue(16)
	bus := NewBus(router, WithProducer(queue))
	processor := NewProcessor(bus, queue, WithWorkerCount(2))
	go func() { _ = processor.Start(ctx) }()

	require.NoError(t, bus.Send(ctx, journal, exercise.Address(), Payload{"user_id": "u1"}))

	request := waitFor(t, exercise.notify)
	assert.Equal(t, SchemaRequest, request.Schema)

	reply := waitFor(t, journal.notify)
	assert.Equal(t, SchemaReply, reply.Schema)
	assert.Equal(t, request.Session, reply.Session)
	assert.Equal(t, exercise.Address(), reply.Sender)
}

type staticResolver map[string]string

func (r staticResolver) EndpointFor(address string) (string, bool) {
	endpoint, ok := r[address]
	return endpoint, ok
}

func TestBusCallRemoteWebhook(t *testing.T) {
	remote := newTestAgent(t, "remote", 9)
	var received *Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received = &env
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	caller := newTestAgent(t, "assistant", 5)
	bus := NewBus(NewRouter(), WithWebhook(NewWebhookTransportWithClient(srv.Client()), staticResolver{remote.Address(): srv.URL}))

	status, err := bus.Call(context.Background(), caller, remote.Address(), Payload{"query": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "success", status.String("status"))
	require.NotNil(t, received)
	require.NoError(t, received.Verify())
	assert.Equal(t, caller.Address(), received.Sender)
}

func TestWebhookTransportReportsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := newTestAgent(t, "journal", 0)
	env, err := NewEnvelope(sender.Address(), "agentx", SchemaRequest, Payload{}, 0)
	require.NoError(t, err)
	require.NoError(t, env.Seal(sender))

	_, err = NewWebhookTransportWithClient(srv.Client()).Post(context.Background(), srv.URL, env)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
}

func TestPayloadHelpers(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","themes":["a","b"],"flag":true,"blank":" "}`), &p))
	assert.Equal(t, []string{"a", "b"}, p.Strings("themes"))
	assert.True(t, p.Bool("flag"))
	assert.Nil(t, p.Strings("missing"))

	missing, ok := p.Require("user_id", "blank")
	assert.False(t, ok)
	assert.Equal(t, "blank", missing)
	_, ok = p.Require("user_id")
	assert.True(t, ok)
}

func TestMemoryQueueRedeliversRetryableFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(4)
	require.NoError(t, queue.Publish(ctx, []byte("envelope")))

	attempts := make(chan int, maxRedeliveries+2)
	var calls int
	go func() {
		_ = queue.Consume(ctx, 1, func(context.Context, []byte) error {
			calls++
			attempts <- calls
			return xerrors.New(xerrors.CodeTimeout, "slow agent")
		})
	}()

	for want := 1; want <= maxRedeliveries+1; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
	select {
	case got := <-attempts:
		t.Fatalf("unexpected extra delivery %d", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, queue.Len())

	require.NoError(t, queue.Close())
	err := queue.Publish(context.Background(), []byte("late"))
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
}

func TestProcessorCountsDroppedAndPanics(t *testing.T) {
	router := NewRouter()
	target := newTestAgent(t, "therapy", 3)
	router.Register(target.Address(), HandlerFunc(func(context.Context, *Envelope) (Payload, error) {
		panic("boom")
	}))
	processor := NewProcessor(NewBus(router), NewMemoryQueue(1))

	require.NoError(t, processor.handle(context.Background(), []byte("not json")))

	sender := newTestAgent(t, "journal", 0)
	env, err := NewEnvelope(sender.Address(), target.Address(), SchemaReply, Payload{}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, env.Seal(sender))
	raw, err := env.Encode()
	require.NoError(t, err)

	err = processor.handle(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	stats := processor.Stats()
	assert.Equal(t, ProcessorStats{Handled: 0, Failed: 1, Dropped: 1}, stats)
}

func TestSpawnStopsOnFirstError(t *testing.T) {
	err := spawn(context.Background(), 3, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
			return xerrors.New(xerrors.CodeQueueFailure, "connection lost")
		}
	})
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
}

func TestMemoryQueueCloseReleasesBlockedPublisher(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Publish(context.Background(), []byte("first")))

	published := make(chan error, 1)
	go func() { published <- queue.Publish(context.Background(), []byte("second")) }()

	closed := make(chan struct{})
	go func() {
		_ = queue.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked behind a full queue")
	}
	select {
	case err := <-published:
		assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatalf("blocked publisher was not released")
	}
}

func TestRedisItemCarriesAttempt(t *testing.T) {
	raw, err := encodeRedisItem([]byte(`{"version":1}`), 2)
	require.NoError(t, err)
	item := decodeRedisItem(string(raw))
	assert.Equal(t, 2, item.Attempt)
	assert.Equal(t, `{"version":1}`, string(item.Body))

	legacy := decodeRedisItem(`{"version":1,"sender":"agent00"}`)
	assert.Zero(t, legacy.Attempt)
	assert.Equal(t, `{"version":1,"sender":"agent00"}`, string(legacy.Body))
}
