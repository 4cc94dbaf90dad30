package watcher_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/internal/adapters/watcher"
	"go.trai.ch/xnail/internal/core/ports/mocks"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatcher_ReportsWatchedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "sheet.go")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o600))
	require.NoError(t, os.WriteFile(other, []byte("v1"), 0o600))

	ctrl := gomock.NewController(t)
	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Warn(gomock.Any()).AnyTimes()

	rec := &recorder{}
	w, err := watcher.NewWatcher(20*time.Millisecond, logger, rec.record)
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	require.NoError(t, w.Watch(watched))
	require.NoError(t, w.Watch(watched), "watching twice is a no-op")

	require.NoError(t, os.WriteFile(other, []byte("v2"), 0o600))
	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o600))

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	for _, batch := range rec.snapshot() {
		assert.Equal(t, []string{watched}, batch)
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := mocks.NewMockLogger(ctrl)

	w, err := watcher.NewWatcher(time.Millisecond, logger, func([]string) {})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	err = w.Watch(filepath.Join(t.TempDir(), "absent", "sheet.go"))
	assert.Error(t, err)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := mocks.NewMockLogger(ctrl)

	factory := watcher.Factory(time.Millisecond, logger)
	w, err := factory(func([]string) {})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
