package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ev := UnlockEvent{StudentID: "s1", TriggerID: "l1", Unlocked: []string{"l2"}, At: time.Now()}
	require.NoError(t, r.PublishUnlock(context.Background(), ev))

	got := r.Events()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"l2"}, got[0].Unlocked)

	got[0].StudentID = "changed"
	assert.Equal(t, "s1", r.Events()[0].StudentID, "Events returns a copy")
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(nil)
	assert.NoError(t, p.PublishUnlock(context.Background(), UnlockEvent{StudentID: "s1"}))
	assert.NoError(t, p.Close())
}

func TestNewRedisPublisher_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisPublisher(ctx, RedisConfig{}, nil)
	assert.ErrorContains(t, err, "missing redis URL")

	_, err = NewRedisPublisher(ctx, RedisConfig{URL: "http://localhost"}, nil)
	assert.ErrorContains(t, err, "parse redis URL")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = NewRedisPublisher(ctx, RedisConfig{URL: "redis://127.0.0.1:1/0"}, nil)
	assert.ErrorContains(t, err, "redis ping")
}
