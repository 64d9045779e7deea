package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunabot/luna/internal/config"
	luerrors "github.com/lunabot/luna/internal/errors"
)

func newTestManager(t *testing.T, entries map[string]config.WorkspaceEntry) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "main", entries)
	require.NoError(t, err)
	return m
}

func write(t *testing.T, m *Manager, relative, content string) {
	t.Helper()
	path, err := m.SafePath(relative)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSafePathRejectsEscapes(t *testing.T) {
	m := newTestManager(t, nil)

	for _, bad := range []string{
		"../outside",
		"main/../../etc/passwd",
		"..",
	} {
		_, err := m.SafePath(bad)
		require.Error(t, err, bad)
		assert.True(t, luerrors.IsCategory(err, luerrors.ErrPermissionDenied), bad)
	}

	path, err := m.SafePath("main/NOTES.md")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestPathRejectsReservedNames(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Path("_global")
	require.Error(t, err)
	assert.True(t, luerrors.IsCategory(err, luerrors.ErrInvalidInput))
}

func TestPathCreatesLazily(t *testing.T) {
	m := newTestManager(t, nil)

	path, err := m.Path("travel")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestComposeContextFallback(t *testing.T) {
	m := newTestManager(t, nil)
	assert.Equal(t, defaultPersona, m.ComposeContext())
}

func TestComposeContextLayersFiles(t *testing.T) {
	m := newTestManager(t, nil)
	write(t, m, "_global/IDENTITY.md", "I am Luna.")
	write(t, m, "_global/USER.md", "The user is Sam.")
	write(t, m, "main/SOUL.md", "Keep replies short.")
	write(t, m, "main/NOTES.md", "Sam likes tea.")

	context := m.ComposeContext()
	identity := "I am Luna."
	soul := "Keep replies short."
	assert.Contains(t, context, identity)
	assert.Contains(t, context, "The user is Sam.")
	assert.Contains(t, context, soul)
	assert.Contains(t, context, "Sam likes tea.")
	// Global identity leads, workspace context follows.
	assert.Less(t, strings.Index(context, identity), strings.Index(context, soul))
}

func TestSwitchRequiresExistingWorkspace(t *testing.T) {
	m := newTestManager(t, nil)

	assert.False(t, m.Switch("nowhere"))
	assert.Equal(t, "main", m.Current())

	_, err := m.Path("travel")
	require.NoError(t, err)
	assert.True(t, m.Switch("travel"))
	assert.Equal(t, "travel", m.Current())
}

func TestAuthorizationByMode(t *testing.T) {
	entries := map[string]config.WorkspaceEntry{
		"main":   {Mode: ModeSingle},
		"family": {Mode: ModeSharedDM, AuthorizedUsers: []int64{100, 200}},
		"team":   {Mode: ModeGroup, TelegramGroupID: -42},
	}
	m := newTestManager(t, entries)

	assert.True(t, m.IsAuthorized("main", 999))
	assert.True(t, m.IsAuthorized("family", 100))
	assert.False(t, m.IsAuthorized("family", 999))
	assert.True(t, m.IsAuthorized("team", 999))

	ws, ok := m.WorkspaceForGroup(-42)
	require.True(t, ok)
	assert.Equal(t, "team", ws)
	_, ok = m.WorkspaceForGroup(-43)
	assert.False(t, ok)
}

func TestAuthorizedWorkspacesExcludesGroups(t *testing.T) {
	entries := map[string]config.WorkspaceEntry{
		"main":   {Mode: ModeSingle},
		"family": {Mode: ModeSharedDM, AuthorizedUsers: []int64{100}},
		"team":   {Mode: ModeGroup, TelegramGroupID: -42},
	}
	m := newTestManager(t, entries)
	for _, name := range []string{"family", "team"} {
		_, err := m.Path(name)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"family", "main"}, m.AuthorizedWorkspaces(100))
	assert.Equal(t, []string{"main"}, m.AuthorizedWorkspaces(999))
}

func TestListSkipsReservedDirs(t *testing.T) {
	m := newTestManager(t, nil)
	assert.Equal(t, []string{"main"}, m.List())
}

func TestInfo(t *testing.T) {
	m := newTestManager(t, map[string]config.WorkspaceEntry{
		"main": {Mode: ModeSingle, Model: "opus"},
	})
	write(t, m, "main/SOUL.md", "persona")

	info := m.Info("")
	assert.Equal(t, "main", info.Name)
	assert.Equal(t, "opus", info.Model)
	assert.True(t, info.HasSoul)
	assert.False(t, info.HasHeartbeat)
}
