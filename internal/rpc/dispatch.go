package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/session"
)

// Handler decodes params from a *session.Session call, invokes it, and
// returns the value to encode as the result.
type Handler func(sess *session.Session, params json.RawMessage) (any, error)

var methodRegistry = make(map[string]Handler)

// RegisterMethod registers a handler under name. Called from init() in
// the sibling files of this package.
func RegisterMethod(name string, h Handler) {
	methodRegistry[name] = h
}

func getMethod(name string) (Handler, bool) {
	h, ok := methodRegistry[name]
	return h, ok
}

// Serve reads and dispatches requests from rw. It returns nil when the
// peer closes the stream cleanly (io.EOF) or after answering a call that
// failed with an internal-kind error, and returns the error when a frame
// cannot be read or written. Each request runs synchronously
// in request order; a session has one RPC in flight at a time.
func Serve(rw io.ReadWriter, sess *session.Session, logger *slog.Logger) error {
	for {
		var req Request
		if err := ReadFrame(rw, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		resp := dispatch(sess, req)

		if err := WriteFrame(rw, resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}

		if logger != nil {
			logger.Debug("rpc call", slog.String("method", req.Method), slog.Uint64("id", req.ID))
		}

		// An internal failure means the session's view of the daemon
		// state can no longer be trusted; respond, then drop the channel.
		if resp.Error != nil && resp.Error.Kind == "internal" {
			if logger != nil {
				logger.Error("internal error, closing connection",
					slog.String("method", req.Method), slog.String("error", resp.Error.Message))
			}
			return nil
		}
	}
}

func dispatch(sess *session.Session, req Request) Response {
	method, ok := getMethod(req.Method)
	if !ok {
		return errorResponse(req.ID, apierr.New(apierr.KindNotFound, "unknown method "+req.Method))
	}

	if m := sess.Metrics(); m != nil {
		m.RPCCalled(req.Method)
	}

	result, err := method(sess, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, apierr.Wrap(apierr.KindInternal, "marshaling result", err))
	}
	return Response{ID: req.ID, Result: body}
}

func errorResponse(id uint64, err error) Response {
	return Response{ID: id, Error: &ErrorPayload{Kind: kindName(err), Message: err.Error()}}
}

func kindName(err error) string {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apierr.KindNotAuthorized:
			return "not_authorized"
		case apierr.KindAuthenticationFailure:
			return "authentication_failure"
		case apierr.KindNotFound:
			return "not_found"
		case apierr.KindUnavailable:
			return "unavailable"
		default:
			return "internal"
		}
	}
	return "internal"
}

// ParseErrorPayload reconstructs an *apierr.Error from a wire ErrorPayload,
// for clients (admin tools, NSS module) that need to branch on kind.
func ParseErrorPayload(p *ErrorPayload) error {
	if p == nil {
		return nil
	}
	kind := apierr.KindInternal
	switch strings.ToLower(p.Kind) {
	case "not_authorized":
		kind = apierr.KindNotAuthorized
	case "authentication_failure":
		kind = apierr.KindAuthenticationFailure
	case "not_found":
		kind = apierr.KindNotFound
	case "unavailable":
		kind = apierr.KindUnavailable
	}
	return apierr.New(kind, p.Message)
}
