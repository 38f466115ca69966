package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
	"stakeproof/internal/ledger"
)

func TestEvidenceSubmitInfersMedia(t *testing.T) {
	cmd := evidenceSubmitCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--description", "read chapter 3"}))
	media, err := cmd.Flags().GetString("media")
	require.NoError(t, err)
	assert.Empty(t, media)

	ctx := context.Background()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.CreateMission(ctx, domain.Mission{ID: "m1", OwnerID: "alice", Status: domain.MissionActive}))
	l := ledger.New(store, ledger.Config{})

	text, err := l.SubmitEvidence(ctx, ledger.Submission{MissionID: "m1", Description: "read chapter 3", Media: domain.MediaKind(media)})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaText, text.Media)

	photo, err := l.SubmitEvidence(ctx, ledger.Submission{MissionID: "m1", MediaRef: "https://img.example/p.jpg", Media: domain.MediaKind(media)})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaImage, photo.Media)
}
