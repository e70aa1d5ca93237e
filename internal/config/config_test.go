package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Participants, 1)
	assert.Equal(t, "confidence", cfg.TurnManager.Strategy)
	assert.Equal(t, 0.3, cfg.SilenceThreshold)
	assert.True(t, cfg.Summarization.Enabled)
	assert.Equal(t, 50_000, cfg.Summarization.Threshold)
}

func TestConfig_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Participants = append(cfg.Participants, ParticipantConfig{
		ID: "claude", DisplayName: "Claude", Enabled: true, MaxTokens: 4096,
		Provider: "anthropic", ModelID: "claude-opus",
	})
	cfg.Deadlines.Tool = 45 * time.Second

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Participants, 2)
	assert.Equal(t, "claude", loaded.Participants[1].ID)
	assert.Equal(t, 45*time.Second, loaded.Deadlines.Tool)
}

func TestConfig_LoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Participants, 1)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("rejects no enabled participants", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Participants[0].Enabled = false
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects duplicate participant ids", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Participants = append(cfg.Participants, cfg.Participants[0])
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TurnManager.Strategy = "bogus"
		assert.Error(t, cfg.Validate())
	})

	t.Run("fixed strategy requires fixed_order", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TurnManager.Strategy = "fixed"
		assert.Error(t, cfg.Validate())

		cfg.TurnManager.FixedOrder = []string{"gemini"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("fixed_order must reference known participants", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TurnManager.Strategy = "fixed"
		cfg.TurnManager.FixedOrder = []string{"nobody"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out-of-range silence threshold", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SilenceThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})
}

func TestFindWorkspaceRoot_FallsBackToGoMod(t *testing.T) {
	root, err := FindWorkspaceRoot()
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestDefaultConfigPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", ".orchestra", "config.yaml"), DefaultConfigPath("/ws"))
}
