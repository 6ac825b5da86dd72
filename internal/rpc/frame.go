// Package rpc implements the wire protocol between authd's clients (the
// daemon's own admin tools and the NSS module) and the session state
// machine in internal/session: JSON request/response bodies, each
// prefixed with a 4-byte big-endian length, and a name -> handler
// dispatch table.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single request or response body. It is generous
// enough for any aPAKE message or directory listing this daemon produces;
// anything larger is refused to bound memory under a hostile peer.
const MaxFrameSize = 16 << 20 // 16 MiB

// Request is one call's wire envelope. Deadline is the caller's absolute
// deadline in Unix milliseconds, zero when the caller set none; the server
// does not act on it and never aborts in-flight handlers on its account.
type Request struct {
	ID       uint64          `json:"id"`
	Method   string          `json:"method"`
	Deadline int64           `json:"deadline,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Response is one call's wire reply. Exactly one of Result or Error is set.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the wire form of an apierr.Error.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteFrame writes v as a length-prefixed JSON frame.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds MaxFrameSize", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame and unmarshals it into v.
func ReadFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds MaxFrameSize", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshaling frame: %w", err)
	}
	return nil
}
