package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"HOST", "PORT", "STORY_STORAGE_DRIVER", "STORY_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "story.json"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "http://localhost:8000", cfg.Server.PublicURL)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-1.5-pro", cfg.LLM.Model)
	assert.Equal(t, 60, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Sessions.Driver)
	assert.Equal(t, "memory", cfg.Messaging.Transport)
	assert.Equal(t, "https://agentverse.ai", cfg.Registry.BaseURL)
	assert.Equal(t, "llm", cfg.Analysis.Provider)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, 2, cfg.Knowledge.MaxResults)
}

func TestLoadFileResolvesRelativePaths(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "story.json")
	content := `{
		"server": {"address": ":9000", "public_url": "https://story.example.com/"},
		"llm": {"provider": "openai"},
		"runtime": {"data_dir": "state"},
		"knowledge": {"path": "agents.json"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "https://story.example.com", cfg.Server.PublicURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "agents.json"), cfg.Knowledge.Path)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	values := map[string]string{
		"PORT":                          "8100",
		"FETCH_AI_SEED_PHRASE":          "seed words",
		"AGENTVERSE_API_KEY":            "primary",
		"AGENTVERSE_API_KEY_SECONDARY":  "secondary",
		"GEMINI_API_KEY":                "shared",
		"THERAPY_AGENT_GEMINI_API_KEY":  "therapy-only",
		"STORY_STORAGE_DRIVER":          "sqlite",
		"STORY_REDIS_ADDR":              "redis:6379",
		"STORY_LOG_LEVEL":               "debug",
		"WORKFLOW_AGENT_GEMINI_API_KEY": "  ",
	}
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	var cfg Config
	require.NoError(t, cfg.applyEnv(lookup))
	cfg.applyDefaults(t.TempDir())

	assert.Equal(t, ":8100", cfg.Server.Address)
	assert.Equal(t, "http://localhost:8100", cfg.Server.PublicURL)
	assert.Equal(t, "seed words", cfg.Identity.SeedPhrase)
	assert.Equal(t, "primary", cfg.Registry.APIKey)
	assert.Equal(t, "secondary", cfg.Registry.SecondaryKey)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "redis:6379", cfg.Sessions.Redis.Addr)
	assert.Equal(t, "redis:6379", cfg.Messaging.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.Equal(t, "therapy-only", cfg.LLM.KeyFor("therapy"))
	assert.Equal(t, "shared", cfg.LLM.KeyFor("journal"))
	assert.Equal(t, "shared", cfg.LLM.KeyFor("workflow"))
}

func TestAgentKeyEnv(t *testing.T) {
	assert.Equal(t, "JOURNAL_AGENT_GEMINI_API_KEY", AgentKeyEnv("journal"))
	assert.Len(t, AgentNames, 7)
}
