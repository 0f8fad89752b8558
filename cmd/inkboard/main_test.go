package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/inkboard/internal/broker"
	redisstore "github.com/gosuda/inkboard/internal/store/redis"
)

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost:5173", "https://ink.example.com", "*.example.org"})
	assert.Equal(t, []string{"localhost:5173", "ink.example.com", "*.example.org"}, got)
}

func TestBrokerReadiness(t *testing.T) {
	t.Parallel()

	t.Run("memory broker is not checked", func(t *testing.T) {
		t.Parallel()
		mem := broker.NewMemory(8)
		defer mem.Close()
		assert.Nil(t, brokerReadiness(mem))
	})

	t.Run("redis broker follows the server", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		ps, err := redisstore.New(context.Background(), mr.Addr(), "", 0, 8)
		require.NoError(t, err)
		defer ps.Close()

		p := brokerReadiness(ps)
		require.NotNil(t, p)
		require.NoError(t, p.Ping(context.Background()))

		mr.Close()
		assert.Error(t, p.Ping(context.Background()))
	})
}
