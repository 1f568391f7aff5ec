package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStatusIsTerminal(t *testing.T) {
	assert.True(t, FileStatusPersisted.IsTerminal())
	assert.True(t, FileStatusFailed.IsTerminal())

	for _, status := range []FileStatus{
		FileStatusQueued,
		FileStatusFetching,
		FileStatusFetched,
		FileStatusProcessing,
		FileStatusProcessed,
	} {
		assert.False(t, status.IsTerminal(), "%s must not be terminal", status)
	}
}

func TestFileRecordValidate(t *testing.T) {
	record := NewFileRecord("file_1", 42, "https://host.example/a.mkv")
	require.NoError(t, record.Validate())
	assert.Equal(t, FileStatusQueued, record.Status)
	assert.False(t, record.CreatedAt.IsZero())

	missing := *record
	missing.ID = ""
	assert.Error(t, missing.Validate())

	missing = *record
	missing.UserID = 0
	assert.Error(t, missing.Validate())

	missing = *record
	missing.SourceRef = ""
	assert.Error(t, missing.Validate())

	// Processed and persisted records must point at an artifact
	processed := *record
	processed.Status = FileStatusProcessed
	assert.Error(t, processed.Validate())

	processed.StoragePath = "/data/downloads/42/file_1.mp4"
	assert.NoError(t, processed.Validate())
}

func TestJobCancellation(t *testing.T) {
	job := NewJob("file_1", DownloadRequest{UserID: 42, SourceRef: "https://host.example/a"})
	assert.Equal(t, StageQueued, job.Stage)
	assert.False(t, job.Cancelled())

	job.Cancel()
	assert.True(t, job.Cancelled())
}

func TestUserDisplayNameAndActive(t *testing.T) {
	user := &User{ID: 1, FirstName: "Ada", Username: "ada", Registered: true}
	assert.Equal(t, "Ada", user.DisplayName())
	assert.True(t, user.Active())

	user.FirstName = ""
	assert.Equal(t, "ada", user.DisplayName())

	user.Username = ""
	assert.Equal(t, "there", user.DisplayName())

	user.Deleted = true
	assert.False(t, user.Active())
}
