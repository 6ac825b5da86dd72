package session

import (
	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/frekui/opaque"
)

// StartLogin implements start_login: Anonymous -> LoginInProgress.
// An absent envelope must not short-circuit to an early failure; the
// adapter substitutes a precomputed dummy user so the response is
// indistinguishable from a registered one.
func (s *Session) StartLogin(username string, msg1 opaque.AuthMsg1) (opaque.AuthMsg2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, err := s.shared.Store.LoadEnvelope(username)
	if err != nil {
		return opaque.AuthMsg2{}, apierr.Wrap(apierr.KindInternal, "loading envelope", err)
	}

	serverState, msg2, err := s.shared.APake.ServerLoginStart(envelope, msg1, username)
	if err != nil {
		// Crypto/framing misuse downgrades to AuthenticationFailure and
		// resets login sub-state without dropping the connection.
		s.clearLoginLocked()
		s.state = Anonymous
		return opaque.AuthMsg2{}, apierr.Wrap(apierr.KindAuthenticationFailure, "start_login", err)
	}

	s.serverLoginState = serverState
	s.purportedUsername = username
	s.state = LoginInProgress
	return msg2, nil
}

// FinishLogin implements finish_login: LoginInProgress -> Authenticated
// on success, or back to Anonymous with login sub-state cleared on
// failure.
func (s *Session) FinishLogin(msg3 opaque.AuthMsg3) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != LoginInProgress || s.serverLoginState == nil {
		return apierr.ErrAuthenticationFailure
	}

	key, err := apake.ServerLoginFinish(s.serverLoginState, msg3)
	if err != nil {
		s.clearLoginLocked()
		s.state = Anonymous
		s.recordLoginAttempt(false)
		return apierr.Wrap(apierr.KindAuthenticationFailure, "finish_login", err)
	}

	username := s.purportedUsername
	s.clearLoginLocked()
	s.sessionKey = key
	s.purportedUsername = username
	s.state = Authenticated
	s.recordLoginAttempt(true)
	return nil
}

func (s *Session) recordLoginAttempt(success bool) {
	if s.shared.Metrics != nil {
		s.shared.Metrics.LoginAttempt(success)
	}
}
