package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store owns the passwd/group/shadow text files plus the envelope
// directory. It is the single writer; readers observe the current file
// contents via Reloadable's mtime check. One RWMutex guards the whole
// store so that a refresh (which mutates caches) is serialized with
// lookups.
type Store struct {
	mu sync.RWMutex

	passwd *Reloadable[Passwd]
	group  *Reloadable[Group]
	shadow *Reloadable[Shadow]

	passwdPath string
	groupPath  string
	shadowPath string
	envDir     string
}

// New creates a Store backed by the given file paths and envelope
// directory. The envelope directory is created if missing.
func New(passwdPath, groupPath, shadowPath, envDir string) (*Store, error) {
	if err := os.MkdirAll(envDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating envelope directory: %w", err)
	}
	return &Store{
		passwd:     NewReloadable(passwdPath, ParsePasswdLine, func(p Passwd) string { return p.Name }),
		group:      NewReloadable(groupPath, ParseGroupLine, func(g Group) string { return g.Name }),
		shadow:     NewReloadable(shadowPath, ParseShadowLine, func(s Shadow) string { return s.Name }),
		passwdPath: passwdPath,
		groupPath:  groupPath,
		shadowPath: shadowPath,
		envDir:     envDir,
	}, nil
}

func (s *Store) refreshLocked() error {
	if err := s.passwd.Refresh(); err != nil {
		return err
	}
	if err := s.group.Refresh(); err != nil {
		return err
	}
	if err := s.shadow.Refresh(); err != nil {
		return err
	}
	return nil
}

// Refresh re-parses any of the three files whose mtime has advanced.
// Exported so callers that need refresh-then-authorize-check ordering
// can invoke it explicitly before a subsequent lookup.
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

// AllPasswd returns all passwd records, refreshing first.
func (s *Store) AllPasswd() ([]Passwd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]Passwd, len(s.passwd.Data()))
	copy(out, s.passwd.Data())
	return out, nil
}

// PasswdByName returns the passwd record named name, refreshing first.
func (s *Store) PasswdByName(name string) (*Passwd, error) {
	all, err := s.AllPasswd()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, nil
}

// PasswdByUID returns the passwd record with the given uid, refreshing first.
func (s *Store) PasswdByUID(uid uint32) (*Passwd, error) {
	all, err := s.AllPasswd()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == uid {
			return &all[i], nil
		}
	}
	return nil, nil
}

// AllGroups returns all group records, refreshing first.
func (s *Store) AllGroups() ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]Group, len(s.group.Data()))
	copy(out, s.group.Data())
	return out, nil
}

// GroupByName returns the group named name, refreshing first.
func (s *Store) GroupByName(name string) (*Group, error) {
	all, err := s.AllGroups()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, nil
}

// GroupByGID returns the group with the given gid, refreshing first.
func (s *Store) GroupByGID(gid uint32) (*Group, error) {
	all, err := s.AllGroups()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].GID == gid {
			return &all[i], nil
		}
	}
	return nil, nil
}

// AllShadow returns all shadow records, refreshing first.
func (s *Store) AllShadow() ([]Shadow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]Shadow, len(s.shadow.Data()))
	copy(out, s.shadow.Data())
	return out, nil
}

// ShadowByName returns the shadow record named name, refreshing first.
func (s *Store) ShadowByName(name string) (*Shadow, error) {
	all, err := s.AllShadow()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, nil
}

// IsAdmin reports whether name is a member of AdminGroupName, refreshing
// the group table first so group edits take effect immediately.
func (s *Store) IsAdmin(name string) (bool, error) {
	g, err := s.GroupByName(AdminGroupName)
	if err != nil {
		return false, err
	}
	if g == nil {
		return false, nil
	}
	return g.HasMember(name), nil
}

// AppendPasswd appends a formatted passwd line and fsyncs the file.
func (s *Store) AppendPasswd(p Passwd) error {
	return appendLine(s.passwdPath, FormatPasswdLine(p))
}

// AppendGroupMember adds name to groupName's member list by writing a
// line carrying the updated list ahead of the existing lines (temp file +
// rename). Readers resolve duplicate names to the first match after a
// full re-parse, so the new line shadows the earlier one on the next
// refresh; the stale line is never evicted.
func (s *Store) AppendGroupMember(groupName, name string) error {
	g, err := s.GroupByName(groupName)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("group %q does not exist", groupName)
	}
	if g.HasMember(name) {
		return nil
	}
	updated := Group{Name: g.Name, GID: g.GID, Members: append(append([]string{}, g.Members...), name)}
	old, err := os.ReadFile(s.groupPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.groupPath, err)
	}
	tmp := s.groupPath + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(FormatGroupLine(updated)+"\n"), old...), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.groupPath)
}

// AppendShadow appends a formatted shadow line and fsyncs the file.
func (s *Store) AppendShadow(sh Shadow) error {
	return appendLine(s.shadowPath, FormatShadowLine(sh))
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

// validEnvelopeName rejects usernames that would escape the envelope
// directory or collide with the temp-file suffix. Login accepts arbitrary
// purported usernames off the wire, so this is checked on every envelope
// access, not only on registration.
func validEnvelopeName(username string) bool {
	if username == "" || username == "." || username == ".." {
		return false
	}
	return !strings.ContainsAny(username, "/\x00")
}

// LoadEnvelope returns the raw envelope bytes for username, or nil if no
// envelope file exists. A name no envelope file could legally have is
// treated as absent, so login proceeds with the dummy envelope.
func (s *Store) LoadEnvelope(username string) ([]byte, error) {
	if !validEnvelopeName(username) {
		return nil, nil
	}
	data, err := os.ReadFile(s.envelopePath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading envelope for %s: %w", username, err)
	}
	return data, nil
}

// StoreEnvelope writes env as the envelope for username, replacing any
// prior envelope. Written via a temp file + rename so a concurrent reader
// never observes a partially-written envelope.
func (s *Store) StoreEnvelope(username string, env []byte) error {
	if !validEnvelopeName(username) {
		return fmt.Errorf("invalid envelope name %q", username)
	}
	final := s.envelopePath(username)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, env, 0o600); err != nil {
		return fmt.Errorf("writing envelope for %s: %w", username, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("committing envelope for %s: %w", username, err)
	}
	return nil
}

func (s *Store) envelopePath(username string) string {
	return filepath.Join(s.envDir, username)
}
