package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lunabot/luna/internal/config"
	lunaErrors "github.com/lunabot/luna/internal/errors"
)

const (
	ModeSingle   = "single"
	ModeSharedDM = "shared-dm"
	ModeGroup    = "group"

	ListenAll      = "all"
	ListenMentions = "mentions"

	// Directories starting with this prefix are reserved (e.g. _global).
	reservedPrefix = "_"
	globalDir      = "_global"
)

const defaultPersona = "You are Luna, a helpful personal assistant."

// Manager resolves workspace identity, mode and authorization, and
// composes the system context from workspace files. All file access
// goes through SafePath so a malformed workspace name can never write
// outside the root.
type Manager struct {
	root    string
	mu      sync.RWMutex
	current string
	entries map[string]config.WorkspaceEntry
	groups  map[int64]string
}

func NewManager(root string, defaultWorkspace string, entries map[string]config.WorkspaceEntry) (*Manager, error) {
	abs, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if defaultWorkspace == "" {
		defaultWorkspace = config.DefaultWorkspace
	}
	if strings.HasPrefix(defaultWorkspace, reservedPrefix) {
		return nil, lunaErrors.InvalidInput("default workspace name is reserved: %s", defaultWorkspace)
	}

	m := &Manager{
		root:    abs,
		current: defaultWorkspace,
		entries: entries,
		groups:  make(map[int64]string),
	}
	for name, entry := range entries {
		if entry.Mode == ModeGroup && entry.TelegramGroupID != 0 {
			m.groups[entry.TelegramGroupID] = name
		}
	}

	if err := os.MkdirAll(filepath.Join(abs, globalDir), 0o755); err != nil {
		return nil, fmt.Errorf("create global dir: %w", err)
	}
	if err := m.ensure(defaultWorkspace); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) ensure(name string) error {
	path, err := m.SafePath(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// SafePath resolves a path relative to the workspace root and rejects
// anything that escapes it.
func (m *Manager) SafePath(relative string) (string, error) {
	full, err := filepath.Abs(filepath.Join(m.root, relative))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if full != m.root && !strings.HasPrefix(full, m.root+string(filepath.Separator)) {
		return "", lunaErrors.PermissionDenied("path escapes workspace root: %s", relative)
	}
	return full, nil
}

func (m *Manager) readFileSafe(relative string) string {
	path, err := m.SafePath(relative)
	if err != nil {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (m *Manager) entry(name string) config.WorkspaceEntry {
	if e, ok := m.entries[name]; ok {
		return e
	}
	return config.WorkspaceEntry{Mode: ModeSingle, ListenMode: ListenAll}
}

func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Path returns the directory for a workspace, creating it lazily.
func (m *Manager) Path(name string) (string, error) {
	if name == "" {
		name = m.Current()
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return "", lunaErrors.InvalidInput("workspace name is reserved: %s", name)
	}
	if err := m.ensure(name); err != nil {
		return "", err
	}
	return m.SafePath(name)
}

func (m *Manager) Mode(name string) string {
	if name == "" {
		name = m.Current()
	}
	return m.entry(name).Mode
}

func (m *Manager) ModelOverride(name string) string {
	if name == "" {
		name = m.Current()
	}
	return m.entry(name).Model
}

func (m *Manager) ListenMode(name string) string {
	if name == "" {
		name = m.Current()
	}
	return m.entry(name).ListenMode
}

func (m *Manager) GroupID(name string) int64 {
	if name == "" {
		name = m.Current()
	}
	e := m.entry(name)
	if e.Mode != ModeGroup {
		return 0
	}
	return e.TelegramGroupID
}

// WorkspaceForGroup returns the workspace bound to a group chat, if any.
func (m *Manager) WorkspaceForGroup(groupID int64) (string, bool) {
	name, ok := m.groups[groupID]
	return name, ok
}

func (m *Manager) IsAuthorized(name string, userID int64) bool {
	switch m.entry(name).Mode {
	case ModeSingle, ModeGroup:
		return true
	case ModeSharedDM:
		for _, id := range m.entry(name).AuthorizedUsers {
			if id == userID {
				return true
			}
		}
	}
	return false
}

func (m *Manager) AuthorizedUsers(name string) []int64 {
	e := m.entry(name)
	if e.Mode != ModeSharedDM {
		return nil
	}
	return e.AuthorizedUsers
}

// AuthorizedWorkspaces lists the workspaces a user may switch into.
// Group workspaces are excluded: they are reached through their chat.
func (m *Manager) AuthorizedWorkspaces(userID int64) []string {
	var out []string
	for _, ws := range m.List() {
		switch m.entry(ws).Mode {
		case ModeSingle:
			out = append(out, ws)
		case ModeSharedDM:
			if m.IsAuthorized(ws, userID) {
				out = append(out, ws)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) List() []string {
	dirEntries, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), reservedPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Exists(name string) bool {
	if strings.HasPrefix(name, reservedPrefix) {
		return false
	}
	path, err := m.SafePath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (m *Manager) Switch(name string) bool {
	if !m.Exists(name) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = name
	return true
}

// ComposeContext builds the LLM system prompt from global identity
// files and the current workspace's own files.
func (m *Manager) ComposeContext() string {
	ws := m.Current()
	var parts []string

	if identity := m.readFileSafe(filepath.Join(globalDir, "IDENTITY.md")); identity != "" {
		parts = append(parts, "# Identity\n\n"+identity)
	}
	if user := m.readFileSafe(filepath.Join(globalDir, "USER.md")); user != "" {
		parts = append(parts, "# About the User\n\n"+user)
	}
	if soul := m.readFileSafe(filepath.Join(ws, "SOUL.md")); soul != "" {
		parts = append(parts, "# Workspace Context: "+ws+"\n\n"+soul)
	}
	if notes := m.readFileSafe(filepath.Join(ws, "NOTES.md")); notes != "" {
		parts = append(parts, "# Memory\n\n"+notes)
	}
	if tools := m.readFileSafe(filepath.Join(ws, "TOOLS.md")); tools != "" {
		parts = append(parts, "# Tools & References\n\n"+tools)
	}

	if len(parts) == 0 {
		return defaultPersona
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// HeartbeatPrompt loads the current workspace's HEARTBEAT.md, if any.
func (m *Manager) HeartbeatPrompt() string {
	return m.readFileSafe(filepath.Join(m.Current(), "HEARTBEAT.md"))
}

type Info struct {
	Name         string
	Mode         string
	Model        string
	HasSoul      bool
	HasNotes     bool
	HasTools     bool
	HasHeartbeat bool
}

func (m *Manager) Info(name string) Info {
	if name == "" {
		name = m.Current()
	}
	e := m.entry(name)
	return Info{
		Name:         name,
		Mode:         e.Mode,
		Model:        e.Model,
		HasSoul:      m.readFileSafe(filepath.Join(name, "SOUL.md")) != "",
		HasNotes:     m.readFileSafe(filepath.Join(name, "NOTES.md")) != "",
		HasTools:     m.readFileSafe(filepath.Join(name, "TOOLS.md")) != "",
		HasHeartbeat: m.readFileSafe(filepath.Join(name, "HEARTBEAT.md")) != "",
	}
}
