package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewsRefreshTask(t *testing.T) {
	task, err := NewNewsRefreshTask(NewsRefreshPayload{
		Categories:    []string{"tech", "ai_ml"},
		SyncCloud:     true,
		CorrelationID: "cid",
		LockToken:     "lock-1",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeNewsRefresh, task.Type())

	p, err := ParseNewsRefreshPayload(task)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech", "ai_ml"}, p.Categories)
	assert.Equal(t, "lock-1", p.LockToken)
	assert.Equal(t, "cid", p.CorrelationID)
}

func TestParseNewsRefreshPayloadRejectsGarbage(t *testing.T) {
	_, err := ParseNewsRefreshPayload(asynq.NewTask(TypeNewsRefresh, []byte("{")))
	assert.Error(t, err)
}

func TestEmptyPayloadRefreshesEverything(t *testing.T) {
	p, err := ParseNewsRefreshPayload(asynq.NewTask(TypeNewsRefresh, []byte(`{}`)))
	require.NoError(t, err)
	assert.Empty(t, p.Categories)
	assert.Empty(t, p.LockToken, "scheduled tasks take the lock themselves")
}
