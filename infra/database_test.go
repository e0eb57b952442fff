package infra

import (
	"testing"
	"time"

	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBConnection_RequiresURL(t *testing.T) {
	_, err := NewDBConnection(nil, "development")
	require.Error(t, err)

	_, err = NewDBConnection(&config.DB{}, "production")
	assert.EqualError(t, err, "DATABASE_URL is not set")
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("not a url", &config.Redis{})
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient("redis://127.0.0.1:1/0", &config.Redis{DialTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
