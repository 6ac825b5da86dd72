// Package secret holds small helpers for wiping sensitive byte slices
// from memory once they are no longer needed: passwords, session keys,
// and envelopes in flight.
package secret

// Bytes is a byte slice that can be wiped in place.
type Bytes []byte

// Wipe zeros the backing array. Safe to call on a nil or already-wiped
// value.
func (b Bytes) Wipe() {
	for i := range b {
		b[i] = 0
	}
}

// Password holds a cleartext password as Bytes so it can be wiped after
// use instead of lingering as an immutable Go string.
type Password struct {
	b Bytes
}

// NewPassword copies s into a wipeable buffer.
func NewPassword(s string) *Password {
	return &Password{b: Bytes(s)}
}

func (p *Password) String() string { return string(p.b) }

// Wipe zeros the password's backing bytes.
func (p *Password) Wipe() {
	p.b.Wipe()
}
