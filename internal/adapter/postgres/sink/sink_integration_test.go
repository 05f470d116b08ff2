//go:build integration

package sink_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgsink "github.com/alanyang/task-mesh/internal/adapter/postgres/sink"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/testutil"
)

func TestSink_DeliverAndHistory(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	s := pgsink.New(pool)
	ctx := context.Background()
	id := "t-" + uuid.NewString()[:8]
	finished := time.Now().UTC().Truncate(time.Millisecond)

	first := task.Result{
		TaskID: id, Type: "echo", Run: 0, Outcome: task.OutcomeFailed,
		Error: "boom", FailureKind: task.FailureExecution, Attempts: 4, Retries: 4,
		ControllerID: "c1", FinishedAt: finished,
	}
	second := task.Result{
		TaskID: id, Type: "echo", Run: 1, Outcome: task.OutcomeSucceeded,
		Payload: json.RawMessage(`{"ok":true}`), Attempts: 1, ControllerID: "c2", FinishedAt: finished,
	}
	require.NoError(t, s.Deliver(ctx, first))
	require.NoError(t, s.Deliver(ctx, second))

	got, err := s.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, task.OutcomeFailed, got[0].Outcome)
	assert.Equal(t, task.FailureExecution, got[0].FailureKind)
	assert.Empty(t, got[0].Payload)
	assert.Equal(t, task.OutcomeSucceeded, got[1].Outcome)
	assert.JSONEq(t, `{"ok":true}`, string(got[1].Payload))
	assert.True(t, finished.Equal(got[1].FinishedAt))
}

func TestSink_RedeliveryIgnored(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	s := pgsink.New(pool)
	ctx := context.Background()
	r := task.Result{TaskID: "t-" + uuid.NewString()[:8], Type: "echo", Outcome: task.OutcomeSucceeded, Attempts: 1, FinishedAt: time.Now().UTC()}

	require.NoError(t, s.Deliver(ctx, r))
	r.ControllerID = "other"
	require.NoError(t, s.Deliver(ctx, r))

	got, err := s.History(ctx, r.TaskID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].ControllerID)
}
