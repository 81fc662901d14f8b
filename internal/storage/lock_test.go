package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLockExcludesSecondRun(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireRunLock(dir, testKey, "run-1")
	require.NoError(t, err)

	_, err = AcquireRunLock(dir, testKey, "run-2")
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "run-1")

	require.NoError(t, first.Release())

	second, err := AcquireRunLock(dir, testKey, "run-2")
	require.NoError(t, err)
	assert.NoError(t, second.Release())
}

func TestRunLockPerKey(t *testing.T) {
	dir := t.TempDir()
	other := testKey
	other.SourceType = "videos"

	a, err := AcquireRunLock(dir, testKey, "a")
	require.NoError(t, err)
	defer a.Release()

	b, err := AcquireRunLock(dir, other, "b")
	require.NoError(t, err)
	defer b.Release()
}

func TestLockPath(t *testing.T) {
	p := LockPath("/tmp/locks", testKey)
	assert.True(t, strings.HasPrefix(p, "/tmp/locks/"))
	assert.True(t, strings.HasSuffix(p, "2026-01-06_daily_newsletter.lock"))
}

func TestReleaseNil(t *testing.T) {
	var l *RunLock
	assert.NoError(t, l.Release())
}
