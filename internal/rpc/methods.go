package rpc

import (
	"encoding/json"

	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/session"
	"github.com/frekui/opaque"
)

// badParams classifies a request whose params did not decode. For the
// aPAKE methods a malformed message is protocol misuse and maps to
// AuthenticationFailure, like an out-of-order step; for the directory
// reads it is a plain parse error the NSS side will fold into Unavail
// anyway.
func badParams(err error) error {
	return apierr.Wrap(apierr.KindUnavailable, "bad params", err)
}

func badCryptoParams(err error) error {
	return apierr.Wrap(apierr.KindAuthenticationFailure, "bad params", err)
}

func init() {
	RegisterMethod("get_all_groups", func(sess *session.Session, _ json.RawMessage) (any, error) {
		return sess.GetAllGroups()
	})
	RegisterMethod("get_group_by_name", func(sess *session.Session, params json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(params, &name); err != nil {
			return nil, badParams(err)
		}
		return sess.GetGroupByName(name)
	})
	RegisterMethod("get_group_by_gid", func(sess *session.Session, params json.RawMessage) (any, error) {
		var gid uint32
		if err := json.Unmarshal(params, &gid); err != nil {
			return nil, badParams(err)
		}
		return sess.GetGroupByGID(gid)
	})

	RegisterMethod("get_all_passwd", func(sess *session.Session, _ json.RawMessage) (any, error) {
		return sess.GetAllPasswd()
	})
	RegisterMethod("get_passwd_by_name", func(sess *session.Session, params json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(params, &name); err != nil {
			return nil, badParams(err)
		}
		return sess.GetPasswdByName(name)
	})
	RegisterMethod("get_passwd_by_uid", func(sess *session.Session, params json.RawMessage) (any, error) {
		var uid uint32
		if err := json.Unmarshal(params, &uid); err != nil {
			return nil, badParams(err)
		}
		return sess.GetPasswdByUID(uid)
	})

	RegisterMethod("get_all_shadow", func(sess *session.Session, _ json.RawMessage) (any, error) {
		return sess.GetAllShadow()
	})
	RegisterMethod("get_shadow_by_name", func(sess *session.Session, params json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(params, &name); err != nil {
			return nil, badParams(err)
		}
		return sess.GetShadowByName(name)
	})

	RegisterMethod("start_login", func(sess *session.Session, params json.RawMessage) (any, error) {
		var p struct {
			Username string          `json:"username"`
			Msg1     opaque.AuthMsg1 `json:"msg1"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badCryptoParams(err)
		}
		return sess.StartLogin(p.Username, p.Msg1)
	})
	RegisterMethod("finish_login", func(sess *session.Session, params json.RawMessage) (any, error) {
		var msg3 opaque.AuthMsg3
		if err := json.Unmarshal(params, &msg3); err != nil {
			return nil, badCryptoParams(err)
		}
		return struct{}{}, sess.FinishLogin(msg3)
	})

	RegisterMethod("register_new_user", func(sess *session.Session, params json.RawMessage) (any, error) {
		var p struct {
			Username    string           `json:"username"`
			SelectedUID *uint32          `json:"selected_uid"`
			Shell       string           `json:"shell"`
			HomeDir     string           `json:"home_dir"`
			Msg1        opaque.PwRegMsg1 `json:"msg1"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badCryptoParams(err)
		}
		return sess.RegisterNewUser(p.Username, p.SelectedUID, p.Shell, p.HomeDir, p.Msg1)
	})
	RegisterMethod("finish_registration", func(sess *session.Session, params json.RawMessage) (any, error) {
		var msg3 opaque.PwRegMsg3
		if err := json.Unmarshal(params, &msg3); err != nil {
			return nil, badCryptoParams(err)
		}
		return struct{}{}, sess.FinishRegistration(msg3)
	})
}
