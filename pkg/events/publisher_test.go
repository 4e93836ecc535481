package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/orchestrator"
	"github.com/pario-ai/warden/pkg/policy"
	"github.com/pario-ai/warden/pkg/retry"
)

const testStream = "warden:events:test"

// setupMiniredis starts a miniredis instance and returns a connected client.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestPublishAddsStreamEntry(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	p := NewPublisher(client, testStream)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(ctx, models.Event{
		Type:      models.EventUsageCommitted,
		JobID:     "job-1",
		Model:     "gpt-4",
		Timestamp: ts,
		Data:      map[string]any{"cost": 0.06},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	v := msgs[0].Values
	assert.Equal(t, "usage_committed", v["type"])
	assert.Equal(t, "job-1", v["job_id"])
	assert.Equal(t, "gpt-4", v["model"])
	assert.Equal(t, ts.Format(time.RFC3339Nano), v["timestamp"])

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(v["data"].(string)), &data))
	assert.InDelta(t, 0.06, data["cost"], 1e-9)
}

func TestPublishToChannel(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	p := NewPublisher(client, testStream, WithChannel("warden:live"))

	// Subscribe BEFORE publishing (Pub/Sub has no replay)
	sub := client.Subscribe(ctx, "warden:live")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, models.Event{
		Type:  models.EventCircuitStateChanged,
		JobID: "job-1",
		Model: "gpt-4",
		Data:  map[string]any{"from": "closed", "to": "open"},
	}))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var ev models.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, models.EventCircuitStateChanged, ev.Type)
	assert.Equal(t, "open", ev.Data["to"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestConnectInvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-valid-url")
	assert.Error(t, err)
}

func TestPublishFailsWhenServerDown(t *testing.T) {
	mr, client := setupMiniredis(t)
	p := NewPublisher(client, testStream)
	mr.Close()

	err := p.Publish(context.Background(), models.Event{Type: models.EventRequestFailed, JobID: "job-1"})
	assert.Error(t, err)
}

func TestOrchestratorPublishesGovernanceEvents(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	p := NewPublisher(client, testStream)

	orc := orchestrator.New("job-ev", orchestrator.Deps{
		Policy:  policy.AllowAll(),
		Retry:   retry.Config{MaxRetries: 0},
		Breaker: orchestrator.BreakerSettings{Threshold: 1, Timeout: time.Minute},
		MaxCost: 1.0,
	}, orchestrator.WithEventPublisher(p), orchestrator.WithLogger(logging.Discard()))

	_, err := orc.Execute(ctx, orchestrator.Request{Model: "gpt-4", InputTokens: 10, OutputTokens: 10},
		func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)

	_, err = orc.Execute(ctx, orchestrator.Request{Model: "gpt-4", InputTokens: 10, OutputTokens: 10},
		func(context.Context) (any, error) { return nil, errors.New("upstream 503") })
	require.ErrorIs(t, err, retry.ErrRetryExhausted)

	msgs, err := client.XRange(ctx, testStream, "-", "+").Result()
	require.NoError(t, err)

	var types []string
	for _, m := range msgs {
		assert.Equal(t, "job-ev", m.Values["job_id"])
		types = append(types, m.Values["type"].(string))
	}
	assert.Equal(t, []string{"usage_committed", "circuit_state_changed", "request_failed"}, types)
}
