package adminclient

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/cosi-lab/authd/internal/rpc"
	"github.com/cosi-lab/authd/internal/rpcclient"
	"github.com/cosi-lab/authd/internal/session"
)

var testSetup *apake.ServerSetup

type testDaemon struct {
	shared *session.Shared
	store  *directory.Store
	dir    string
}

// newTestDaemon builds the daemon-side state (store + adapter) with
// auth-admins containing the named members, and registers the given
// admin user so clients can log in as it.
func newTestDaemon(t *testing.T, admins, adminUser, adminPassword string) *testDaemon {
	t.Helper()
	if testSetup == nil {
		s, err := apake.GenerateServerSetup()
		if err != nil {
			t.Fatal(err)
		}
		testSetup = s
	}

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

	adapter, err := apake.NewAdapter(testSetup)
	if err != nil {
		t.Fatal(err)
	}

	d := &testDaemon{
		shared: &session.Shared{Store: store, APake: adapter, Metrics: &metrics.NoopCollector{}},
		store:  store,
		dir:    dir,
	}

	if adminUser != "" {
		clientState, msg1, err := apake.ClientRegistrationStart(adminUser, adminPassword)
		if err != nil {
			t.Fatal(err)
		}
		serverState, msg2, err := apake.ServerRegistrationStart(testSetup, msg1)
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
		if err := store.StoreEnvelope(adminUser, envelope); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

// connect wires a client to the daemon over an in-process pipe, with a
// fresh session served on the other end — the same dispatch loop a TLS
// connection gets, minus the TLS.
func (d *testDaemon) connect(t *testing.T) *rpcclient.Client {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	sess := session.New(d.shared, serverConn.RemoteAddr())
	go func() {
		defer serverConn.Close()
		defer sess.Close()
		_ = rpc.Serve(serverConn, sess, nil)
	}()

	client := rpcclient.New(clientConn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestLoginOverWire(t *testing.T) {
	d := newTestDaemon(t, "root", "root", "rootpass")
	client := d.connect(t)

	key, err := Login(client, "root", "rootpass")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(key) == 0 {
		t.Error("Login() returned an empty session key")
	}
}

func TestLoginWrongPasswordOverWire(t *testing.T) {
	d := newTestDaemon(t, "root", "root", "rootpass")
	client := d.connect(t)

	if _, err := Login(client, "root", "wrong"); err == nil {
		t.Fatal("Login() with wrong password succeeded")
	}
}

func TestLoginUnknownUserFailsLate(t *testing.T) {
	d := newTestDaemon(t, "", "", "")
	client := d.connect(t)

	// start_login must succeed (enumeration defense); the failure arrives
	// only when finishing.
	if _, err := Login(client, "ghost", "whatever"); err == nil {
		t.Fatal("Login() for unregistered user succeeded")
	}
}

func TestCreateUserFlowOverWire(t *testing.T) {
	d := newTestDaemon(t, "root", "root", "rootpass")
	client := d.connect(t)

	if _, err := Login(client, "root", "rootpass"); err != nil {
		t.Fatalf("admin login error = %v", err)
	}

	if err := RegisterUser(client, "carol", 1100, "/bin/zsh", "/srv/carol", "carolpass"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	bumpMtime(t, filepath.Join(d.dir, "passwd"))
	all, err := AllPasswd(client)
	if err != nil {
		t.Fatalf("AllPasswd() error = %v", err)
	}
	var found *directory.Passwd
	for i := range all {
		if all[i].Name == "carol" {
			found = &all[i]
		}
	}
	if found == nil {
		t.Fatal("carol missing from get_all_passwd after registration")
	}
	if found.ID != 1100 || found.Shell != "/bin/zsh" || found.Dir != "/srv/carol" {
		t.Errorf("carol = %+v", found)
	}

	// The new account authenticates on a fresh connection.
	client2 := d.connect(t)
	if _, err := Login(client2, "carol", "carolpass"); err != nil {
		t.Errorf("new user Login() error = %v", err)
	}
	client3 := d.connect(t)
	if _, err := Login(client3, "carol", "rootpass"); err == nil {
		t.Error("new user Login() with the wrong password succeeded")
	}
}

func TestRegisterUserRequiresAdmin(t *testing.T) {
	d := newTestDaemon(t, "root", "bob", "bobpass")
	client := d.connect(t)

	if _, err := Login(client, "bob", "bobpass"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	err := RegisterUser(client, "carol", 1100, "", "", "carolpass")
	if err == nil {
		t.Fatal("RegisterUser() from a non-admin session succeeded")
	}
	if !apierr.As(err, apierr.KindNotAuthorized) {
		t.Errorf("error = %v, want NotAuthorized over the wire", err)
	}

	if env, _ := d.store.LoadEnvelope("carol"); env != nil {
		t.Error("envelope written despite NotAuthorized")
	}
}

func TestReRegistrationReplacesEnvelope(t *testing.T) {
	d := newTestDaemon(t, "root", "root", "rootpass")

	client := d.connect(t)
	if _, err := Login(client, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}
	if err := RegisterUser(client, "carol", 1100, "", "", "p1"); err != nil {
		t.Fatal(err)
	}

	client2 := d.connect(t)
	if _, err := Login(client2, "root", "rootpass"); err != nil {
		t.Fatal(err)
	}
	if err := RegisterUser(client2, "carol", 1100, "", "", "p2"); err != nil {
		t.Fatal(err)
	}

	// Only the second password authenticates now.
	check := d.connect(t)
	if _, err := Login(check, "carol", "p2"); err != nil {
		t.Errorf("Login with current password error = %v", err)
	}
	check2 := d.connect(t)
	if _, err := Login(check2, "carol", "p1"); err == nil {
		t.Error("Login with replaced password succeeded")
	}
}
