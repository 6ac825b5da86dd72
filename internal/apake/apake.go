// Package apake adapts github.com/frekui/opaque's DH-OPRF based aPAKE
// implementation to the exchanges the session machine drives
// (ClientRegistrationStart/ServerRegistrationStart/... through
// ClientLoginFinish/ServerLoginFinish). frekui/opaque's registration and
// login rounds map onto those roles almost name-for-name; this package
// owns only the envelope encoding, the ServerSetup (RSA keypair)
// framing, the session-key derivation, and the username-enumeration
// defense.
package apake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"

	"github.com/frekui/opaque"
	"golang.org/x/crypto/hkdf"
)

// ClientKeyBits is the RSA key size used for the per-user envelope keypair
// frekui/opaque generates during registration.
const ClientKeyBits = 2048

// ServerSetupBits is the RSA key size of the deployment-wide ServerSetup.
const ServerSetupBits = 2048

// ServerSetup is the deployment's single aPAKE secret. It is generated
// once and held in memory for the daemon's lifetime; losing it
// invalidates every envelope.
type ServerSetup struct {
	key *rsa.PrivateKey
}

// GenerateServerSetup creates a fresh ServerSetup.
func GenerateServerSetup() (*ServerSetup, error) {
	key, err := rsa.GenerateKey(rand.Reader, ServerSetupBits)
	if err != nil {
		return nil, fmt.Errorf("generating server setup: %w", err)
	}
	return &ServerSetup{key: key}, nil
}

// Marshal serializes the setup as a PEM-encoded RSA private key.
func (s *ServerSetup) Marshal() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "AUTHD SERVER SETUP",
		Bytes: x509.MarshalPKCS1PrivateKey(s.key),
	})
}

// UnmarshalServerSetup parses the bytes produced by Marshal.
func UnmarshalServerSetup(data []byte) (*ServerSetup, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("server setup: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("server setup: %w", err)
	}
	return &ServerSetup{key: key}, nil
}

// envelopeJSON mirrors opaque.User for on-disk (de)serialization. A
// dedicated type is used instead of gob so the envelope format is plain,
// inspectable JSON like the rest of this daemon's persisted state.
type envelopeJSON struct {
	Username string   `json:"username"`
	K        *big.Int `json:"k"`
	V        *big.Int `json:"v"`
	EnvU     []byte   `json:"env_u"`
	PubU     *rsaPub  `json:"pub_u"`
}

type rsaPub struct {
	N *big.Int `json:"n"`
	E int      `json:"e"`
}

func encodeEnvelope(u *opaque.User) ([]byte, error) {
	ej := envelopeJSON{
		Username: u.Username,
		K:        u.K,
		V:        u.V,
		EnvU:     u.EnvU,
		PubU:     &rsaPub{N: u.PubU.N, E: u.PubU.E},
	}
	return json.Marshal(ej)
}

func decodeEnvelope(data []byte) (*opaque.User, error) {
	var ej envelopeJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &opaque.User{
		Username: ej.Username,
		K:        ej.K,
		V:        ej.V,
		EnvU:     ej.EnvU,
		PubU:     &rsa.PublicKey{N: ej.PubU.N, E: ej.PubU.E},
	}, nil
}

// Adapter drives the aPAKE protocol on the server side of a connection.
type Adapter struct {
	setup *ServerSetup
	dummy *opaque.User
}

// NewAdapter builds an Adapter over setup, precomputing one dummy user
// used for the username-enumeration defense: ServerLoginStart
// substitutes it whenever the real envelope is absent so that the
// response is structurally identical to a real user's.
func NewAdapter(setup *ServerSetup) (*Adapter, error) {
	dummy, err := buildDummyUser(setup.key)
	if err != nil {
		return nil, fmt.Errorf("building enumeration-defense dummy user: %w", err)
	}
	return &Adapter{setup: setup, dummy: dummy}, nil
}

// buildDummyUser runs one full registration against setup with a fixed
// placeholder credential, producing a *opaque.User with the same shape
// (K, V, EnvU, PubU) any real registered user would have.
func buildDummyUser(setup *rsa.PrivateKey) (*opaque.User, error) {
	clientSess, msg1, err := opaque.PwRegInit("", "authd-enumeration-defense-placeholder", ClientKeyBits)
	if err != nil {
		return nil, err
	}
	serverSess, msg2, err := opaque.PwReg1(setup, msg1)
	if err != nil {
		return nil, err
	}
	msg3, err := opaque.PwReg2(clientSess, msg2)
	if err != nil {
		return nil, err
	}
	return opaque.PwReg3(serverSess, msg3), nil
}

// --- Registration: client side ---

// ClientRegistrationStart begins registration for password; the returned
// state must be passed to ClientRegistrationFinish.
func ClientRegistrationStart(username, password string) (*opaque.PwRegClientSession, opaque.PwRegMsg1, error) {
	return opaque.PwRegInit(username, password, ClientKeyBits)
}

// ClientRegistrationFinish completes registration given the server's reply.
func ClientRegistrationFinish(state *opaque.PwRegClientSession, msg2 opaque.PwRegMsg2) (opaque.PwRegMsg3, error) {
	return opaque.PwReg2(state, msg2)
}

// --- Registration: server side ---

// ServerRegistrationStart processes the client's first registration
// message.
func (a *Adapter) ServerRegistrationStart(msg1 opaque.PwRegMsg1) (*opaque.PwRegServerSession, opaque.PwRegMsg2, error) {
	return ServerRegistrationStart(a.setup, msg1)
}

// ServerRegistrationStart is the adapter-free form, for tools that run the
// server side of registration in-process against a loaded setup with no
// daemon involved (bootstrap-admin, local-create-user).
func ServerRegistrationStart(setup *ServerSetup, msg1 opaque.PwRegMsg1) (*opaque.PwRegServerSession, opaque.PwRegMsg2, error) {
	return opaque.PwReg1(setup.key, msg1)
}

// ServerRegistrationFinish completes registration and returns the bytes to
// persist as the user's envelope.
func ServerRegistrationFinish(state *opaque.PwRegServerSession, msg3 opaque.PwRegMsg3) ([]byte, error) {
	user := opaque.PwReg3(state, msg3)
	return encodeEnvelope(user)
}

// --- Login: client side ---

// ClientLoginStart begins a login attempt with password.
func ClientLoginStart(username, password string) (*opaque.AuthClientSession, opaque.AuthMsg1, error) {
	return opaque.AuthInit(username, password)
}

// ClientLoginFinish completes the client side of login, returning the
// shared session key and the final message to send to the server.
func ClientLoginFinish(state *opaque.AuthClientSession, msg2 opaque.AuthMsg2) ([]byte, opaque.AuthMsg3, error) {
	secret, msg3, err := opaque.Auth2(state, msg2)
	if err != nil {
		return nil, opaque.AuthMsg3{}, err
	}
	key, err := deriveSessionKey(secret)
	if err != nil {
		return nil, opaque.AuthMsg3{}, err
	}
	return key, msg3, nil
}

// --- Login: server side ---

// ServerLoginStart processes the client's first login message. envelope
// may be nil, meaning no such user is registered; a precomputed dummy
// user is substituted so the response is indistinguishable from a
// registered user's.
func (a *Adapter) ServerLoginStart(envelope []byte, msg1 opaque.AuthMsg1, username string) (*opaque.AuthServerSession, opaque.AuthMsg2, error) {
	user := a.dummy
	if envelope != nil {
		u, err := decodeEnvelope(envelope)
		if err != nil {
			return nil, opaque.AuthMsg2{}, err
		}
		user = u
	}
	return opaque.Auth1(a.setup.key, user, msg1)
}

// ServerLoginFinish verifies the client's final login message and returns
// the shared session key. This is the step a wrong password fails at.
func ServerLoginFinish(state *opaque.AuthServerSession, msg3 opaque.AuthMsg3) ([]byte, error) {
	secret, err := opaque.Auth3(state, msg3)
	if err != nil {
		return nil, err
	}
	return deriveSessionKey(secret)
}

// sessionKeyInfo domain-separates the session-key derivation from any
// other use of the exchange's raw shared secret.
const sessionKeyInfo = "authd session key v1"

// SessionKeySize is the length of the derived session key.
const SessionKeySize = 32

// deriveSessionKey expands the raw Diffie-Hellman shared secret the
// exchange produced into a fixed-size session key with HKDF-SHA256. Both
// sides derive, so the keys still match.
func deriveSessionKey(secret []byte) ([]byte, error) {
	key := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(sessionKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return key, nil
}
