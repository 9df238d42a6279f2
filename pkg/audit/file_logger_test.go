package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacadmin/pkg/contextkeys"
)

func TestFileLoggerAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileConfig{Dir: dir})
	require.NoError(t, err)

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	require.NoError(t, logger.Log(ctx, &Event{Type: EventSignIn, Status: StatusSuccess, UserID: "u1", Email: "a@example.com"}))
	require.NoError(t, logger.Log(ctx, &Event{
		Type:         GraphEvent("create"),
		Status:       StatusOf(errors.New("boom")),
		UserID:       "u1",
		Kind:         "roles",
		ErrorMessage: "boom",
	}))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	events, err := ReadDir(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventSignIn, events[0].Type)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "req-1", events[0].RequestID)

	assert.Equal(t, EventGraphCreate, events[1].Type)
	assert.Equal(t, StatusFailure, events[1].Status)
	assert.Equal(t, "roles", events[1].Kind)
}

func TestFileLoggerClosed(t *testing.T) {
	logger, err := NewFileLogger(FileConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	assert.Error(t, logger.Log(context.Background(), &Event{Type: EventSignOut}))
}

func TestFileLoggerRequiresDir(t *testing.T) {
	_, err := NewFileLogger(FileConfig{})
	assert.Error(t, err)
}

func TestFileLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileConfig{Dir: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(ctx, &Event{Type: EventSignIn, Status: StatusSuccess}))
	}

	rotated, err := Rotated(dir)
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)

	events, err := ReadDir(dir, Filter{})
	require.NoError(t, err)
	// two kept rotations plus the active file, one event each
	assert.Len(t, events, 3)
}

func TestReadDirMissing(t *testing.T) {
	events, err := ReadDir(filepath.Join(t.TempDir(), "absent"), Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryLogger(t *testing.T) {
	logger := NewMemoryLogger()
	ctx := contextkeys.WithUserID(context.Background(), "u9")
	event := &Event{Type: EventSignOut, Status: StatusSuccess}
	require.NoError(t, logger.Log(ctx, event))

	events := logger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u9", events[0].UserID)
	assert.Empty(t, event.ID, "the caller's event is not modified")
	assert.NoError(t, logger.Close())
	assert.NoError(t, Nop().Log(ctx, event))
}
