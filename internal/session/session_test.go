package session

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/frekui/opaque"
)

// testSetup is shared across the package's tests; generating the RSA
// setup is the slow part of every exchange.
var testSetup *apake.ServerSetup

func getSetup(t *testing.T) *apake.ServerSetup {
	t.Helper()
	if testSetup == nil {
		s, err := apake.GenerateServerSetup()
		if err != nil {
			t.Fatal(err)
		}
		testSetup = s
	}
	return testSetup
}

type testEnv struct {
	shared *Shared
	store  *directory.Store
	dir    string
}

// newTestEnv builds a Shared over a temp-dir directory store whose group
// file contains auth-admins with the given members.
func newTestEnv(t *testing.T, admins string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"passwd": "",
		"group":  "auth-admins:x:50:" + admins + "\n",
		"shadow": "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store, err := directory.New(
		filepath.Join(dir, "passwd"),
		filepath.Join(dir, "group"),
		filepath.Join(dir, "shadow"),
		filepath.Join(dir, "opaque_cookies"),
	)
	if err != nil {
		t.Fatal(err)
	}

	adapter, err := apake.NewAdapter(getSetup(t))
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		shared: &Shared{Store: store, APake: adapter, Metrics: &metrics.NoopCollector{}},
		store:  store,
		dir:    dir,
	}
}

// registerUser runs registration out-of-band (the way bootstrap-admin
// does) and persists the envelope, so login tests have a registered user
// to authenticate.
func (e *testEnv) registerUser(t *testing.T, username, password string) {
	t.Helper()
	clientState, msg1, err := apake.ClientRegistrationStart(username, password)
	if err != nil {
		t.Fatal(err)
	}
	serverState, msg2, err := apake.ServerRegistrationStart(getSetup(t), msg1)
	if err != nil {
		t.Fatal(err)
	}
	msg3, err := apake.ClientRegistrationFinish(clientState, msg2)
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := apake.ServerRegistrationFinish(serverState, msg3)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.StoreEnvelope(username, envelope); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) newSession() *Session {
	return New(e.shared, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000})
}

// login drives the full client side of start_login/finish_login against
// sess, returning the client's half of the session key on success.
func login(t *testing.T, sess *Session, username, password string) ([]byte, error) {
	t.Helper()
	clientState, msg1, err := apake.ClientLoginStart(username, password)
	if err != nil {
		t.Fatal(err)
	}
	msg2, err := sess.StartLogin(username, msg1)
	if err != nil {
		return nil, err
	}
	clientKey, msg3, err := apake.ClientLoginFinish(clientState, msg2)
	if err != nil {
		// The wrong-password case dies here client-side; hand the server
		// a garbage msg3 the way a hostile client would, so the server
		// path is exercised too.
		if finErr := sess.FinishLogin(opaque.AuthMsg3{DhSig: []byte("x"), DhMac: []byte("x")}); finErr != nil {
			return nil, finErr
		}
		t.Fatal("FinishLogin accepted a forged msg3")
	}
	if err := sess.FinishLogin(msg3); err != nil {
		return nil, err
	}
	return clientKey, nil
}

func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestLoginHappyPath(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerUser(t, "ember", "hunter2")
	sess := env.newSession()

	if sess.State() != Anonymous {
		t.Fatalf("fresh session state = %v, want Anonymous", sess.State())
	}

	clientKey, err := login(t, sess, "ember", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if sess.State() != Authenticated {
		t.Errorf("state = %v, want Authenticated", sess.State())
	}
	if len(sess.sessionKey) == 0 {
		t.Error("session has no session key after successful login")
	}
	if !bytes.Equal(clientKey, sess.sessionKey) {
		t.Error("client and session keys differ")
	}

	// Directory reads still work on the authenticated session.
	if _, err := sess.GetAllPasswd(); err != nil {
		t.Errorf("GetAllPasswd() after login error = %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerUser(t, "ember", "hunter2")
	env.registerUser(t, "zed", "zedpass")
	sess := env.newSession()

	_, err := login(t, sess, "ember", "wrong")
	if err == nil {
		t.Fatal("login with wrong password succeeded")
	}
	if !apierr.As(err, apierr.KindAuthenticationFailure) {
		t.Errorf("error kind = %v, want AuthenticationFailure", err)
	}

	if sess.State() != Anonymous {
		t.Errorf("state after failed login = %v, want Anonymous", sess.State())
	}
	if sess.sessionKey != nil {
		t.Error("failed login left a session key behind")
	}
	if sess.serverLoginState != nil || sess.purportedUsername != "" {
		t.Error("failed login left login sub-state behind")
	}

	// A subsequent login for a different user on the same session works.
	if _, err := login(t, sess, "zed", "zedpass"); err != nil {
		t.Errorf("login after failure error = %v", err)
	}
}

func TestStartLoginUnknownUserIndistinguishable(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerUser(t, "ember", "hunter2")
	sess := env.newSession()

	_, msg1, err := apake.ClientLoginStart("ghost", "whatever")
	if err != nil {
		t.Fatal(err)
	}
	msg2, err := sess.StartLogin("ghost", msg1)
	if err != nil {
		t.Fatalf("StartLogin(unknown user) error = %v, want synthesized reply", err)
	}
	if msg2.V == nil || msg2.B == nil || len(msg2.EnvU) == 0 {
		t.Errorf("synthesized msg2 missing fields: %+v", msg2)
	}
	if sess.State() != LoginInProgress {
		t.Errorf("state = %v, want LoginInProgress", sess.State())
	}

	// finish_login must be the step that fails.
	err = sess.FinishLogin(opaque.AuthMsg3{DhSig: []byte("x"), DhMac: []byte("x")})
	if err == nil {
		t.Fatal("FinishLogin for unknown user succeeded")
	}
	if !apierr.As(err, apierr.KindAuthenticationFailure) {
		t.Errorf("error kind = %v, want AuthenticationFailure", err)
	}
}

func TestFinishLoginOutOfOrder(t *testing.T) {
	env := newTestEnv(t, "")
	sess := env.newSession()

	err := sess.FinishLogin(opaque.AuthMsg3{})
	if err == nil {
		t.Fatal("FinishLogin with no start_login succeeded")
	}
	if !apierr.As(err, apierr.KindAuthenticationFailure) {
		t.Errorf("error kind = %v, want AuthenticationFailure", err)
	}
}

// registerViaSession drives the admin-gated registration RPC pair for a
// new user on an (expectedly admin) session.
func registerViaSession(t *testing.T, sess *Session, username string, uid *uint32, password string) error {
	t.Helper()
	clientState, msg1, err := apake.ClientRegistrationStart(username, password)
	if err != nil {
		t.Fatal(err)
	}
	msg2, err := sess.RegisterNewUser(username, uid, "", "", msg1)
	if err != nil {
		return err
	}
	msg3, err := apake.ClientRegistrationFinish(clientState, msg2)
	if err != nil {
		t.Fatal(err)
	}
	return sess.FinishRegistration(msg3)
}

func TestAdminCanRegisterNewUser(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	sess := env.newSession()

	if _, err := login(t, sess, "root", "rootpass"); err != nil {
		t.Fatalf("admin login failed: %v", err)
	}

	uid := uint32(1100)
	if err := registerViaSession(t, sess, "carol", &uid, "carolpass"); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	// Envelope committed.
	env2, err := env.store.LoadEnvelope("carol")
	if err != nil || env2 == nil {
		t.Fatalf("LoadEnvelope(carol) = %v, %v; want envelope", env2, err)
	}

	// Passwd and shadow rows appended with the defaults filled in.
	bumpMtime(t, filepath.Join(env.dir, "passwd"))
	p, err := env.store.PasswdByName("carol")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.ID != 1100 || p.Shell != "/bin/sh" || p.Dir != "/home/carol" {
		t.Fatalf("PasswdByName(carol) = %+v", p)
	}
	bumpMtime(t, filepath.Join(env.dir, "shadow"))
	sh, err := env.store.ShadowByName("carol")
	if err != nil {
		t.Fatal(err)
	}
	if sh == nil || sh.Passwd != "!" {
		t.Fatalf("ShadowByName(carol) = %+v", sh)
	}

	// The admin's own authentication was not disturbed.
	if sess.State() != Authenticated || sess.purportedUsername != "root" {
		t.Errorf("admin session disturbed: state=%v user=%q", sess.State(), sess.purportedUsername)
	}

	// The new user can log in with the registered password on a fresh
	// session, and not with any other.
	sess2 := env.newSession()
	if _, err := login(t, sess2, "carol", "carolpass"); err != nil {
		t.Errorf("new user login failed: %v", err)
	}
	sess3 := env.newSession()
	if _, err := login(t, sess3, "carol", "other"); err == nil {
		t.Error("new user login with wrong password succeeded")
	}
}

func TestNonAdminCannotRegister(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "bob", "bobpass")
	sess := env.newSession()

	if _, err := login(t, sess, "bob", "bobpass"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	uid := uint32(1100)
	err := registerViaSession(t, sess, "carol", &uid, "carolpass")
	if err == nil {
		t.Fatal("non-admin registration succeeded")
	}
	if !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("error kind = %v, want NotAuthorized", err)
	}

	// No envelope was written.
	env2, _ := env.store.LoadEnvelope("carol")
	if env2 != nil {
		t.Error("envelope written despite NotAuthorized")
	}
}

func TestAnonymousCannotRegister(t *testing.T) {
	env := newTestEnv(t, "root")
	sess := env.newSession()

	uid := uint32(1100)
	_, msg1, err := apake.ClientRegistrationStart("carol", "carolpass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.RegisterNewUser("carol", &uid, "", "", msg1); !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("anonymous RegisterNewUser error = %v, want NotAuthorized", err)
	}
}

func TestRegisterRequiresUID(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	sess := env.newSession()
	if _, err := login(t, sess, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}

	err := registerViaSession(t, sess, "carol", nil, "carolpass")
	if err == nil {
		t.Fatal("registration with no uid succeeded")
	}
	if !apierr.As(err, apierr.KindInternal) {
		t.Errorf("error = %v, want uid-required rejection", err)
	}
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	sess := env.newSession()
	if _, err := login(t, sess, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}

	uid := uint32(1100)
	for _, name := range []string{"", "a:b", "a\nb"} {
		_, msg1, err := apake.ClientRegistrationStart("x", "p")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sess.RegisterNewUser(name, &uid, "", "", msg1); err == nil {
			t.Errorf("RegisterNewUser(%q) succeeded, want error", name)
		}
	}
}

func TestFinishRegistrationWithoutStart(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	sess := env.newSession()
	if _, err := login(t, sess, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}

	if err := sess.FinishRegistration(opaque.PwRegMsg3{}); err == nil {
		t.Error("FinishRegistration with no registration in progress succeeded")
	}
}

func TestAdminDemotionTakesEffectImmediately(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	sess := env.newSession()
	if _, err := login(t, sess, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}

	// Remove root from auth-admins behind the session's back.
	groupPath := filepath.Join(env.dir, "group")
	if err := os.WriteFile(groupPath, []byte("auth-admins:x:50:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bumpMtime(t, groupPath)

	uid := uint32(1100)
	err := registerViaSession(t, sess, "carol", &uid, "carolpass")
	if !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("demoted admin registration error = %v, want NotAuthorized", err)
	}
}

func TestAdminPromotionTakesEffectImmediately(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerUser(t, "ember", "hunter2")
	sess := env.newSession()
	if _, err := login(t, sess, "ember", "hunter2"); err != nil {
		t.Fatal(err)
	}

	uid := uint32(1100)
	if err := registerViaSession(t, sess, "carol", &uid, "p"); !apierr.As(err, apierr.KindNotAuthorized) {
		t.Fatalf("pre-promotion error = %v, want NotAuthorized", err)
	}

	groupPath := filepath.Join(env.dir, "group")
	if err := os.WriteFile(groupPath, []byte("auth-admins:x:50:ember\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bumpMtime(t, groupPath)

	if err := registerViaSession(t, sess, "carol", &uid, "p"); err != nil {
		t.Errorf("post-promotion registration error = %v", err)
	}
}

func TestShadowReadsAreAdminGated(t *testing.T) {
	env := newTestEnv(t, "root")
	env.registerUser(t, "root", "rootpass")
	env.registerUser(t, "bob", "bobpass")

	// Anonymous: denied.
	anon := env.newSession()
	if _, err := anon.GetAllShadow(); !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("anonymous GetAllShadow error = %v, want NotAuthorized", err)
	}

	// Authenticated non-admin: denied.
	bob := env.newSession()
	if _, err := login(t, bob, "bob", "bobpass"); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.GetShadowByName("root"); !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("non-admin GetShadowByName error = %v, want NotAuthorized", err)
	}

	// Admin: allowed.
	root := env.newSession()
	if _, err := login(t, root, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.GetAllShadow(); err != nil {
		t.Errorf("admin GetAllShadow error = %v", err)
	}
}

func TestPasswdAndGroupReadsAreAnonymous(t *testing.T) {
	env := newTestEnv(t, "root")
	sess := env.newSession()

	if _, err := sess.GetAllPasswd(); err != nil {
		t.Errorf("anonymous GetAllPasswd error = %v", err)
	}
	if _, err := sess.GetAllGroups(); err != nil {
		t.Errorf("anonymous GetAllGroups error = %v", err)
	}
	g, err := sess.GetGroupByName("auth-admins")
	if err != nil || g == nil {
		t.Errorf("GetGroupByName(auth-admins) = %+v, %v", g, err)
	}
	if p, err := sess.GetPasswdByName("nobody"); err != nil || p != nil {
		t.Errorf("GetPasswdByName(nobody) = %+v, %v; want nil, nil", p, err)
	}
}

func TestCloseWipesSessionKey(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerUser(t, "ember", "hunter2")
	sess := env.newSession()
	if _, err := login(t, sess, "ember", "hunter2"); err != nil {
		t.Fatal(err)
	}

	key := sess.sessionKey
	sess.Close()

	if sess.sessionKey != nil {
		t.Error("Close() left sessionKey set")
	}
	for _, b := range key {
		if b != 0 {
			t.Error("Close() did not zero the session key bytes")
			break
		}
	}
	if sess.serverLoginState != nil || sess.serverRegState != nil {
		t.Error("Close() left protocol state behind")
	}
}
