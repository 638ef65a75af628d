package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/saferoute/internal/blskeys"
)

func TestBuildRequiresClientKeypair(t *testing.T) {
	genesis := blskeys.NewKeypair()
	_, err := NewBuilder(genesis.Public).Build()
	assert.Error(t, err)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	genesis := blskeys.NewKeypair()
	client := blskeys.NewKeypair()
	cfg := DefaultConfig()
	cfg.CheckReplicas = true
	cfg.QueryParallelism = 0 // querypipeline.One

	_, err := NewBuilder(genesis.Public).WithClientKeypair(client).WithConfig(cfg).Build()
	assert.Error(t, err)
}

func TestBuildSucceedsWithMinimalConfig(t *testing.T) {
	genesis := blskeys.NewKeypair()
	client := blskeys.NewKeypair()

	s, err := NewBuilder(genesis.Public).WithClientKeypair(client).Build()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, blskeys.EqualPublicKeys(s.ClientKeypair().Public, client.Public))
	s.Shutdown()
}

func TestShutdownCancelsInFlightOperations(t *testing.T) {
	genesis := blskeys.NewKeypair()
	client := blskeys.NewKeypair()
	s, err := NewBuilder(genesis.Public).WithClientKeypair(client).Build()
	require.NoError(t, err)

	ctx, cancel := s.derive(context.Background())
	defer cancel()
	s.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context was not cancelled by Shutdown")
	}
}
