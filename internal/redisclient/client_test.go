package redisclient

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	assert.Nil(t, New(nil, config.Config{}, zap.NewNop()))
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	client := New(nil, config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}}, zap.NewNop())
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
}

func TestNewReturnsNilWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	assert.Nil(t, New(nil, config.Config{Redis: config.RedisConfig{Addr: addr}}, zap.NewNop()))
}
