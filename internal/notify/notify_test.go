package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

func sampleEvent(id string) service.CompletionEvent {
	return service.CompletionEvent{
		RequestID:  id,
		Tenant:     "acme",
		Stage:      "redact",
		Status:     model.StatusSuccess,
		Processed:  4,
		Redactions: 2,
		Categories: map[string]int{"email": 2},
	}
}

func TestRedis_Publish(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	sub := client.Subscribe(ctx, DefaultChannel)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedis(client, "")
	require.NoError(t, n.Publish(ctx, sampleEvent("job-1")))

	select {
	case msg := <-sub.Channel():
		var got service.CompletionEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sampleEvent("job-1"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedis_Recent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	n := NewRedis(client, "events")
	for i := range historyLength + 5 {
		require.NoError(t, n.Publish(ctx, sampleEvent(fmt.Sprintf("job-%d", i))))
	}

	length, err := client.LLen(ctx, "events:recent").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(historyLength), length)

	recent, err := n.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, fmt.Sprintf("job-%d", historyLength+4), recent[0].RequestID)
	assert.Equal(t, fmt.Sprintf("job-%d", historyLength+3), recent[1].RequestID)
}

func TestLog_Publish(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Publish(context.Background(), sampleEvent("job-9")))
	assert.Contains(t, buf.String(), "request_id=job-9")
	assert.Contains(t, buf.String(), "status=Success")
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Publish(ctx context.Context, event service.CompletionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestMulti_Publish(t *testing.T) {
	ctx := context.Background()
	event := sampleEvent("job-2")
	boom := errors.New("boom")

	failing := &mockNotifier{}
	failing.On("Publish", ctx, event).Return(boom)
	ok := &mockNotifier{}
	ok.On("Publish", ctx, event).Return(nil)

	err := Multi{failing, ok}.Publish(ctx, event)
	assert.ErrorIs(t, err, boom)
	failing.AssertExpectations(t)
	ok.AssertExpectations(t)

	assert.NoError(t, Multi{}.Publish(ctx, event))
}
