package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	ch := &Channel{BaseModel: BaseModel{ID: NewULID()}, Name: "News"}
	j := NewRescanJob(ch)

	assert.Equal(t, JobTypeRescan, j.Type)
	assert.Equal(t, ch.ID, j.TargetID)
	assert.Equal(t, "News", j.TargetName)
	assert.False(t, j.IsRunning())
	assert.False(t, j.IsFinished())

	j.MarkRunning()
	assert.True(t, j.IsRunning())
	assert.Equal(t, 1, j.AttemptCount)
	require.NotNil(t, j.StartedAt)

	j.MarkCompleted("added=3 removed=1 total=12")
	assert.True(t, j.IsFinished())
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Equal(t, "added=3 removed=1 total=12", j.Result)
	require.NotNil(t, j.CompletedAt)
}

func TestJobMarkFailed(t *testing.T) {
	j := NewPrecacheJob(&Channel{Name: "News"})
	j.MaxAttempts = 3

	j.MarkRunning()
	j.MarkFailed(errors.New("disk full"))

	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Equal(t, "disk full", j.LastError)
	assert.True(t, j.IsFinished())
	assert.True(t, j.CanRetry())

	j.AttemptCount = 3
	assert.False(t, j.CanRetry())
}

func TestJobMarkCancelled(t *testing.T) {
	j := NewRescanJob(&Channel{Name: "News"})
	j.MarkRunning()
	j.MarkCancelled()

	assert.Equal(t, JobStatusCancelled, j.Status)
	assert.True(t, j.IsFinished())
	assert.False(t, j.CanRetry())
}

func TestJobCalculateNextBackoff(t *testing.T) {
	j := &Job{BackoffSeconds: 60}

	j.AttemptCount = 1
	assert.Equal(t, 60*time.Second, j.CalculateNextBackoff())

	j.AttemptCount = 3
	assert.Equal(t, 240*time.Second, j.CalculateNextBackoff())

	j.AttemptCount = 10
	assert.Equal(t, time.Hour, j.CalculateNextBackoff())
}

func TestJobValidate(t *testing.T) {
	j := &Job{}
	assert.ErrorIs(t, j.Validate(), ErrJobTypeRequired)

	j.Type = JobTypeRescan
	assert.NoError(t, j.Validate())
}
