package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	connected bool
	err       error
}

func (f fakeEngine) Connected() bool { return f.connected }

func (f fakeEngine) Stats(ctx context.Context) (int, int, error) {
	return 3, 5, f.err
}

func TestCheckWithoutDependencies(t *testing.T) {
	h := NewChecker(nil, nil, nil, fakeEngine{connected: false})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "push down alone is not unhealthy")

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, Status{
		Service:       "chatsync",
		NATS:          StateNotConfigured,
		Redis:         StateNotConfigured,
		Database:      StateNotConfigured,
		Push:          StateDisconnected,
		Conversations: 3,
		TotalUnread:   5,
	}, status)
}

func TestCheckUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	h := NewChecker(nil, rdb, nil, fakeEngine{connected: true, err: errors.New("engine stopped")})
	status := h.Check(context.Background())
	assert.Equal(t, StateDisconnected, status.Redis)
	assert.Equal(t, StateConnected, status.Push)
	assert.Zero(t, status.Conversations)
	assert.False(t, status.IsHealthy())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
