package service

import (
	"context"
	"testing"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTaskService(t *testing.T) *TaskService {
	t.Helper()
	db := newTestDB(t)
	seedChannel(t, db, "A", true, 0)
	seedChannel(t, db, "B", true, 0)
	s := NewTaskService(db, NewChannelDirectory(db, time.Minute), logger.NewNop())
	s.SetClock(func() time.Time { return testEpoch })
	return s
}

func TestCreateTask(t *testing.T) {
	s := newTestTaskService(t)

	draft, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "A", Title: "  深海探秘  "})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, draft.Status)
	assert.Equal(t, model.PriorityNormal, draft.Priority)
	assert.Equal(t, "深海探秘", draft.Title)

	queued, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "B", Title: "火山", Priority: model.PriorityHigh, Submit: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, queued.Status)
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestTaskService(t)

	_, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "nope", Title: "x"})
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = s.Create(context.Background(), CreateTaskRequest{ChannelID: "A", Title: " "})
	assert.Error(t, err)

	_, err = s.Create(context.Background(), CreateTaskRequest{ChannelID: "A", Title: "x", Priority: "urgent"})
	assert.Error(t, err)
}

func TestSubmitTask(t *testing.T) {
	s := newTestTaskService(t)
	draft, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "A", Title: "t"})
	require.NoError(t, err)

	task, err := s.Submit(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, task.Status)

	_, err = s.Submit(context.Background(), draft.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = s.Submit(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGetListAndCounts(t *testing.T) {
	s := newTestTaskService(t)
	for i := 0; i < 3; i++ {
		_, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "A", Title: "a", Submit: true})
		require.NoError(t, err)
	}
	b, err := s.Create(context.Background(), CreateTaskRequest{ChannelID: "B", Title: "b"})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.ChannelID)

	_, err = s.Get(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, total, err := s.List(context.Background(), TaskListQuery{ChannelID: "A", PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, tasks, 2)

	tasks, total, err = s.List(context.Background(), TaskListQuery{Status: model.StatusDraft})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, b.ID, tasks[0].ID)

	counts, err := s.StatusCounts(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[model.StatusQueued])
	assert.EqualValues(t, 1, counts[model.StatusDraft])

	counts, err = s.StatusCounts(context.Background(), "B")
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts[model.StatusQueued])
}
