package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCmd_Use(t *testing.T) {
	assert.Equal(t, "sync [root]...", syncCmd.Use)
}

func TestSyncCmd_Short(t *testing.T) {
	assert.Equal(t, "Synchronise the index with the file system", syncCmd.Short)
}

func TestSyncCmd_UsesConfiguredRoots(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	settings.Schedule.Roots = []string{"/home/me/docs"}

	out, err := execute("sync")
	require.NoError(t, err)

	m := indexService.(*mockIndexService)
	assert.Equal(t, [][]string{{"/home/me/docs"}}, m.synced)
	assert.Equal(t, 1, m.resumed)
	assert.Equal(t, 1, m.drained)
	// Unchanged and removed come from the sync, the rest from the drain.
	assert.Contains(t, out, "1 added, 0 updated, 7 unchanged, 3 removed")
}

func TestSyncCmd_ArgsOverrideConfiguredRoots(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	settings.Schedule.Roots = []string{"/home/me/docs"}

	_, err := execute("sync", "/srv/share")
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"/srv/share"}}, indexService.(*mockIndexService).synced)
}

func TestSyncCmd_NoProcess(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { syncNoProcess = false }()

	out, err := execute("sync", "--no-process", "/srv/share")
	require.NoError(t, err)

	assert.Equal(t, 0, indexService.(*mockIndexService).drained)
	assert.Contains(t, out, "1 added, 0 updated, 3 removed, 7 unchanged (queued)")
}

func TestSyncCmd_NoRoots(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("sync")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no roots to sync")
}
