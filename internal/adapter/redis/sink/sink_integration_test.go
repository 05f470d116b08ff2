//go:build integration

package sink_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redissink "github.com/alanyang/task-mesh/internal/adapter/redis/sink"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/testutil"
)

func TestSink_DeliverAppendsToStream(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: testutil.RedisAddr(t)})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	stream := "task_mesh:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	s := redissink.New(client, redissink.WithStream(stream), redissink.WithMaxLen(100))
	in := task.Result{
		TaskID: "t1", Type: "echo", Outcome: task.OutcomeSucceeded,
		Payload: json.RawMessage(`{"k":"v"}`), Attempts: 1, ControllerID: "c1",
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Deliver(ctx, in))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	out, err := redissink.Decode(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, in.TaskID, out.TaskID)
	assert.JSONEq(t, string(in.Payload), string(out.Payload))
	assert.True(t, in.FinishedAt.Equal(out.FinishedAt))
}
