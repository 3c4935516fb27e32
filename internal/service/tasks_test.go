package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/models"
)

func TestTaskRegistry_GetSnapshot(t *testing.T) {
	r := NewTaskRegistry()
	chID := models.NewULID()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	tk := r.begin(models.JobTypeRescan, chID, cancel)

	view, ok := r.Get(tk.view.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobTypeRescan, view.Type)
	assert.Equal(t, chID, view.ChannelID)
	assert.Equal(t, TaskStatusRunning, view.Status)
	assert.Nil(t, view.FinishedAt)

	tk.complete(4, 2)
	view, ok = r.Get(tk.view.ID)
	require.True(t, ok)
	assert.Equal(t, TaskStatusCompleted, view.Status)
	assert.Equal(t, 4, view.ItemsAdded)
	assert.Equal(t, 2, view.ItemsRemoved)
	require.NotNil(t, view.FinishedAt)
}

func TestTaskRegistry_GetUnknown(t *testing.T) {
	r := NewTaskRegistry()

	_, ok := r.Get(uuid.New())
	assert.False(t, ok)
}

func TestTaskRegistry_Cancel(t *testing.T) {
	r := NewTaskRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	tk := r.begin(models.JobTypeRescan, models.NewULID(), cancel)

	assert.True(t, r.Cancel(tk.view.ID))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	tk.cancelled()
	assert.False(t, r.Cancel(tk.view.ID))
	assert.False(t, r.Cancel(uuid.New()))
}

func TestTaskRegistry_CancelFinished(t *testing.T) {
	r := NewTaskRegistry()

	_, cancel := context.WithCancel(context.Background())
	tk := r.begin(models.JobTypePrecache, models.NewULID(), cancel)
	tk.complete(0, 0)

	assert.False(t, r.Cancel(tk.view.ID))
}

func TestTaskRegistry_EvictsFinished(t *testing.T) {
	r := NewTaskRegistry()

	var first uuid.UUID
	for i := 0; i < maxFinishedTasks+10; i++ {
		tk := r.begin(models.JobTypeRescan, models.NewULID(), func() {})
		tk.complete(0, 0)
		if i == 0 {
			first = tk.view.ID
		}
	}

	_, ok := r.Get(first)
	assert.False(t, ok)
	assert.LessOrEqual(t, len(r.tasks), maxFinishedTasks)
}

func TestTaskRegistry_RunningNeverEvicted(t *testing.T) {
	r := NewTaskRegistry()

	running := r.begin(models.JobTypeRescan, models.NewULID(), func() {})
	for i := 0; i < maxFinishedTasks+10; i++ {
		tk := r.begin(models.JobTypeRescan, models.NewULID(), func() {})
		tk.complete(0, 0)
	}

	_, ok := r.Get(running.view.ID)
	assert.True(t, ok)
}
