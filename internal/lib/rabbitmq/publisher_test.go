package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	amqpURI, cleanup := amqpURIForTest(ctx, t)
	defer cleanup()

	conn, err := Connect(ctx, amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	queues := append(JobQueues("publish-test"), NotificationQueues()...)
	ch, err := SetupChannel(conn, 0, queues)
	require.NoError(t, err)
	defer func() {
		if err := ch.Close(); err != nil {
			t.Errorf("failed to close channel: %v", err)
		}
	}()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := NewPublisher(ch)
	pub.now = func() time.Time { return fixed }

	t.Run("job reaches jobs queue", func(t *testing.T) {
		require.NoError(t, pub.PublishJob(ctx, "job-1"))

		d, ok, err := getWithin(ch, "publish-test", 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok, "timeout waiting for message")

		var got JobMessage
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, JobMessage{JobID: "job-1"}, got)
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, JobsRoutingKey, d.Type)
		assert.NotEmpty(t, d.MessageId)
		assert.True(t, fixed.Equal(d.Timestamp))
	})

	t.Run("finished notification reaches notifications queue", func(t *testing.T) {
		require.NoError(t, pub.PublishJobFinished(ctx, map[string]string{"job_id": "job-2", "state": "complete"}))

		d, ok, err := getWithin(ch, NotificationsQueue, 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok, "timeout waiting for message")
		assert.JSONEq(t, `{"job_id":"job-2","state":"complete"}`, string(d.Body))
		assert.Equal(t, JobFinishedKey, d.Type)
	})

	t.Run("canceled context publishes nothing", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := pub.PublishJob(cctx, "job-3")
		require.ErrorIs(t, err, context.Canceled)

		_, ok, err := getWithin(ch, "publish-test", 300*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("marshal error", func(t *testing.T) {
		badMsg := struct {
			Ch chan int `json:"ch"`
		}{
			Ch: make(chan int),
		}

		err := pub.Publish(ctx, JobsExchange, JobsRoutingKey, badMsg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq.Publish")
	})
}
