package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StoryAI/internal/llm"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	_, ok, err := store.Stage(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetStage(ctx, user, StageTherapy))
	stage, ok, err := store.Stage(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StageTherapy, stage)

	require.NoError(t, store.ClearStage(ctx, user))
	_, ok, err = store.Stage(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	conv := &Conversation{UserID: user, StartedAt: time.Now().UTC()}
	conv.Append("I'd like to start a therapy session.", true)
	conv.Append("I'm here to listen and support you. How are you feeling today?", false)
	require.NoError(t, store.SaveConversation(ctx, conv))

	loaded, ok, err := store.Conversation(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded.Messages, 2)
	assert.True(t, loaded.Messages[0].IsUser)
	assert.Equal(t, llm.RoleAssistant, loaded.History[1].Role)

	require.NoError(t, store.DeleteConversation(ctx, user))
	_, ok, err = store.Conversation(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, store.SaveConversation(ctx, &Conversation{}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conv := &Conversation{UserID: "u1"}
	conv.Append("hello", true)
	require.NoError(t, store.SaveConversation(ctx, conv))

	loaded, _, _ := store.Conversation(ctx, "u1")
	loaded.Append("unsaved", true)

	again, _, _ := store.Conversation(ctx, "u1")
	assert.Len(t, again.Messages, 1)
}

// TestRedisStore 需要可用的 Redis，通过 STORY_TEST_REDIS_ADDR 指定。
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STORY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORY_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(context.Background(), RedisConfig{Address: addr, Prefix: "story-test:", TTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}
