package session

import (
	"strings"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/frekui/opaque"
)

// RegisterNewUser implements register_new_user: the admin-gated first
// half of creating an account. It remembers which username/uid is being
// registered without disturbing the caller's own Authenticated state;
// the matching finish_registration on the same session commits the
// envelope.
func (s *Session) RegisterNewUser(username string, uid *uint32, shell, homeDir string, msg1 opaque.PwRegMsg1) (opaque.PwRegMsg2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(); err != nil {
		return opaque.PwRegMsg2{}, err
	}
	if uid == nil {
		return opaque.PwRegMsg2{}, apierr.ErrUIDRequired
	}
	if err := validateAccountName(username); err != nil {
		return opaque.PwRegMsg2{}, apierr.Wrap(apierr.KindInternal, "invalid username", err)
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	if homeDir == "" {
		homeDir = "/home/" + username
	}

	regState, msg2, err := s.shared.APake.ServerRegistrationStart(msg1)
	if err != nil {
		return opaque.PwRegMsg2{}, apierr.Wrap(apierr.KindInternal, "register_new_user", err)
	}

	s.registrationUsername = username
	s.registrationUID = uid
	s.registrationShell = shell
	s.registrationHomeDir = homeDir
	s.serverRegState = regState
	return msg2, nil
}

// FinishRegistration implements finish_registration: commits the envelope
// for the username started by the preceding register_new_user call on this
// session, then appends the passwd/shadow lines for the new account.
func (s *Session) FinishRegistration(msg3 opaque.PwRegMsg3) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(); err != nil {
		return err
	}
	if s.serverRegState == nil || s.registrationUsername == "" || s.registrationUID == nil {
		return apierr.Wrap(apierr.KindInternal, "finish_registration", errNoRegistrationInProgress)
	}

	username := s.registrationUsername
	uid := *s.registrationUID
	shell := s.registrationShell
	homeDir := s.registrationHomeDir

	env, err := apake.ServerRegistrationFinish(s.serverRegState, msg3)
	if err != nil {
		s.clearRegistrationLocked()
		return apierr.Wrap(apierr.KindInternal, "finish_registration", err)
	}

	if err := s.shared.Store.StoreEnvelope(username, env); err != nil {
		s.clearRegistrationLocked()
		return apierr.Wrap(apierr.KindInternal, "storing envelope", err)
	}

	if err := s.shared.Store.AppendPasswd(directory.Passwd{
		Name:  username,
		ID:    uid,
		Gecos: "",
		Dir:   homeDir,
		Shell: shell,
	}); err != nil {
		s.clearRegistrationLocked()
		return apierr.Wrap(apierr.KindInternal, "appending passwd entry", err)
	}

	if err := s.shared.Store.AppendShadow(directory.Shadow{
		Name:           username,
		Passwd:         "!",
		LastChange:     0,
		ChangeMinDays:  0,
		ChangeMaxDays:  99999,
		ChangeWarnDays: 7,
	}); err != nil {
		s.clearRegistrationLocked()
		return apierr.Wrap(apierr.KindInternal, "appending shadow entry", err)
	}

	s.clearRegistrationLocked()
	if s.shared.Metrics != nil {
		s.shared.Metrics.RegistrationCompleted()
	}
	if s.shared.Logger != nil {
		s.shared.Logger.Info("registered new user",
			"admin", s.purportedUsername, "user", username, "uid", uid, "peer", s.peer)
	}
	return nil
}

var errNoRegistrationInProgress = apierr.New(apierr.KindInternal, "no registration in progress on this session")

// validateAccountName rejects names that would corrupt the colon-delimited
// passwd/group/shadow line formats.
func validateAccountName(name string) error {
	if name == "" {
		return errEmptyAccountName
	}
	if strings.ContainsAny(name, ":\n") {
		return errInvalidAccountName
	}
	return nil
}

var (
	errEmptyAccountName   = apierr.New(apierr.KindInternal, "account name must not be empty")
	errInvalidAccountName = apierr.New(apierr.KindInternal, "account name must not contain ':' or newline")
)
