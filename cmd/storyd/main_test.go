package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StoryAI/internal/config"
	"StoryAI/internal/identity"
	"StoryAI/internal/llm/anthropic"
	"StoryAI/internal/llm/openai"
	"StoryAI/internal/messaging"
	"StoryAI/internal/session"
	"StoryAI/internal/storage/memory"
	"StoryAI/internal/storage/sqldb"
)

func TestCreateQueueSelectsTransport(t *testing.T) {
	cfg := config.Default()

	queue, err := createQueue(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &messaging.MemoryQueue{}, queue)
	require.NoError(t, queue.Close())

	cfg.Messaging.Transport = "webhook"
	queue, err = createQueue(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, queue)

	cfg.Messaging.Transport = "carrier-pigeon"
	_, err = createQueue(context.Background(), cfg)
	assert.ErrorContains(t, err, "carrier-pigeon")
}

type endpoints map[string]string

func (e endpoints) EndpointFor(address string) (string, bool) {
	endpoint, ok := e[address]
	return endpoint, ok
}

func TestWebhookTransportPostsLocalSends(t *testing.T) {
	sender, err := identity.Derive("journal", "test seed phrase", 0)
	require.NoError(t, err)
	target, err := identity.Derive("exercise", "test seed phrase", 1)
	require.NoError(t, err)

	received := make(chan *messaging.Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env messaging.Envelope
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&env)) {
			received <- &env
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	router := messaging.NewRouter()
	router.Register(target.Address(), messaging.HandlerFunc(func(context.Context, *messaging.Envelope) (messaging.Payload, error) {
		t.Errorf("local handler should not be used for webhook sends")
		return nil, nil
	}))

	cfg := config.Default()
	cfg.Messaging.Transport = "webhook"
	queue, err := createQueue(context.Background(), cfg)
	require.NoError(t, err)
	bus := messaging.NewBus(router, busOptions(cfg, queue, endpoints{target.Address(): srv.URL + "/api/exercise/webhook"})...)

	require.NoError(t, bus.Send(context.Background(), sender, target.Address(), messaging.Payload{"user_id": "u1"}))

	select {
	case env := <-received:
		assert.Equal(t, sender.Address(), env.Sender)
		assert.Equal(t, target.Address(), env.Target)
		require.NoError(t, env.Verify())
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for webhook delivery")
	}
}

func TestCreateStoreSelectsDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.DataDir = t.TempDir()

	store, err := createStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	require.NoError(t, store.Close())

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "story.db")
	store, err = createStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &sqldb.Store{}, store)
	require.NoError(t, store.Close())

	cfg.Storage.Driver = "postgres"
	_, err = createStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "postgres")
}

func TestCreateSessionsSelectsDriver(t *testing.T) {
	cfg := config.Default()

	sessions, err := createSessions(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, sessions)

	cfg.Sessions.Driver = "etcd"
	_, err = createSessions(context.Background(), cfg)
	assert.ErrorContains(t, err, "etcd")
}

func TestCreateLLMClientSelectsProvider(t *testing.T) {
	cfg := config.Default()

	client, err := createLLMClient(cfg, "journal")
	require.NoError(t, err)
	assert.Nil(t, client, "missing key should leave the agent in fallback mode")

	cfg.LLM.APIKey = "shared-key"
	client, err = createLLMClient(cfg, "journal")
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, client)

	cfg.LLM.Provider = "openai"
	client, err = createLLMClient(cfg, "journal")
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, client)

	cfg.LLM.Provider = "anthropic"
	client, err = createLLMClient(cfg, "therapy")
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Client{}, client)

	cfg.LLM.Provider = "llama"
	_, err = createLLMClient(cfg, "journal")
	assert.ErrorContains(t, err, "llama")
}

func TestCreateAnalyzerWithoutClient(t *testing.T) {
	cfg := config.Default()

	analyzer, err := createAnalyzer(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, analyzer)
}
