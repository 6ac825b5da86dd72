// Package adminclient drives the client side of the aPAKE login and
// registration exchanges over internal/rpcclient, for the admin tools:
// dial-and-pin a TLS certificate, log in as an existing admin, then
// register a new user on that authenticated session.
package adminclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/rpcclient"
	"github.com/frekui/opaque"
)

// Dial connects to addr over TLS (1.2+), trusting only the certificate
// PEM-encoded at certPath. The pinned certificate supplies the
// SNI/ServerName it is checked against, so any hostname it covers is
// accepted.
func Dial(addr, certPath string, timeout time.Duration) (*rpcclient.Client, error) {
	pemData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading pinned cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates found in %s", certPath)
	}

	serverName := ""
	if block, _ := pem.Decode(pemData); block != nil {
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil && len(cert.DNSNames) > 0 {
			serverName = cert.DNSNames[0]
		}
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	client := rpcclient.New(conn)
	client.SetTimeout(timeout)
	return client, nil
}

// Login performs the full client side of start_login/finish_login against
// client for username/password, returning the shared session key.
// ClientLoginFinish failing is the expected outcome for a wrong
// password.
func Login(client *rpcclient.Client, username, password string) ([]byte, error) {
	state, msg1, err := apake.ClientLoginStart(username, password)
	if err != nil {
		return nil, fmt.Errorf("starting login: %w", err)
	}

	var msg2 opaque.AuthMsg2
	if err := client.Call("start_login", startLoginParams{Username: username, Msg1: msg1}, &msg2); err != nil {
		return nil, fmt.Errorf("start_login: %w", err)
	}

	key, msg3, err := apake.ClientLoginFinish(state, msg2)
	if err != nil {
		return nil, fmt.Errorf("finishing login: %w", err)
	}

	if err := client.Call("finish_login", msg3, nil); err != nil {
		return nil, fmt.Errorf("finish_login: %w", err)
	}
	return key, nil
}

// RegisterUser drives register_new_user + finish_registration for a new
// account, as an already-authenticated admin session on client. shell and
// homeDir may be empty, in which case the daemon fills in its own defaults.
func RegisterUser(client *rpcclient.Client, username string, uid uint32, shell, homeDir, password string) error {
	state, msg1, err := apake.ClientRegistrationStart(username, password)
	if err != nil {
		return fmt.Errorf("starting registration: %w", err)
	}

	var msg2 opaque.PwRegMsg2
	params := registerParams{Username: username, SelectedUID: &uid, Shell: shell, HomeDir: homeDir, Msg1: msg1}
	if err := client.Call("register_new_user", params, &msg2); err != nil {
		return fmt.Errorf("register_new_user: %w", err)
	}

	msg3, err := apake.ClientRegistrationFinish(state, msg2)
	if err != nil {
		return fmt.Errorf("finishing registration: %w", err)
	}

	if err := client.Call("finish_registration", msg3, nil); err != nil {
		return fmt.Errorf("finish_registration: %w", err)
	}
	return nil
}

// AllPasswd calls get_all_passwd.
func AllPasswd(client *rpcclient.Client) ([]directory.Passwd, error) {
	var out []directory.Passwd
	err := client.Call("get_all_passwd", nil, &out)
	return out, err
}

type startLoginParams struct {
	Username string          `json:"username"`
	Msg1     opaque.AuthMsg1 `json:"msg1"`
}

type registerParams struct {
	Username    string           `json:"username"`
	SelectedUID *uint32          `json:"selected_uid,omitempty"`
	Shell       string           `json:"shell,omitempty"`
	HomeDir     string           `json:"home_dir,omitempty"`
	Msg1        opaque.PwRegMsg1 `json:"msg1"`
}
