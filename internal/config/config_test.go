package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(100), cfg.Economy.MinStake)
	assert.Equal(t, int64(50), cfg.Economy.VotePenalty)
	assert.Equal(t, int64(20), cfg.Economy.VoteReward)
	assert.Equal(t, 5, cfg.Verification.MinVotes)
	assert.Equal(t, 30*time.Second, cfg.Verification.AssessmentTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Suggestions.CacheTTL)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("economy:\n  vote_penalty: 75\nstorage:\n  driver: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(75), cfg.Economy.VotePenalty)
	assert.Equal(t, int64(20), cfg.Economy.VoteReward)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"weights":   "verification:\n  ai_weight: 70\n",
		"min votes": "verification:\n  min_votes: 0\n",
		"driver":    "storage:\n  driver: postgres\n",
		"limits":    "suggestions:\n  per_minute: 20\n  per_hour: 10\n",
		"webhook":   "webhooks:\n  - enabled: true\n",
		"stake":     "economy:\n  min_stake: 0\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stakeproof.yml"), []byte("economy:\n  min_stake: 250\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Economy.MinStake)

	_, err = Load(t.TempDir())
	require.Error(t, err)
}
