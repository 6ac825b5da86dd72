package session

import (
	"github.com/cosi-lab/authd/internal/directory"
)

// GetAllGroups implements get_all_groups. Passwd and group reads are
// open to any connected peer.
func (s *Session) GetAllGroups() ([]directory.Group, error) {
	return s.shared.Store.AllGroups()
}

// GetGroupByName implements get_group_by_name.
func (s *Session) GetGroupByName(name string) (*directory.Group, error) {
	return s.shared.Store.GroupByName(name)
}

// GetGroupByGID implements get_group_by_gid.
func (s *Session) GetGroupByGID(gid uint32) (*directory.Group, error) {
	return s.shared.Store.GroupByGID(gid)
}

// GetAllPasswd implements get_all_passwd.
func (s *Session) GetAllPasswd() ([]directory.Passwd, error) {
	return s.shared.Store.AllPasswd()
}

// GetPasswdByName implements get_passwd_by_name.
func (s *Session) GetPasswdByName(name string) (*directory.Passwd, error) {
	return s.shared.Store.PasswdByName(name)
}

// GetPasswdByUID implements get_passwd_by_uid.
func (s *Session) GetPasswdByUID(uid uint32) (*directory.Passwd, error) {
	return s.shared.Store.PasswdByUID(uid)
}

// GetAllShadow implements get_all_shadow. Unlike passwd and group,
// shadow reads require an admin-authenticated session.
func (s *Session) GetAllShadow() ([]directory.Shadow, error) {
	s.mu.Lock()
	err := s.requireAdminLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.shared.Store.AllShadow()
}

// GetShadowByName implements get_shadow_by_name. Admin-gated, see above.
func (s *Session) GetShadowByName(name string) (*directory.Shadow, error) {
	s.mu.Lock()
	if err := s.requireAdminLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.shared.Store.ShadowByName(name)
}
