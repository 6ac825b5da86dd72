package nssclient

import (
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/rpcclient"
)

// Status is the three-way NSS result: a match, a clean miss, or "no
// richer channel available" for anything else.
type Status int

const (
	// StatusSuccess means the RPC succeeded and returned a value.
	StatusSuccess Status = iota
	// StatusNotFound means the RPC succeeded with no match.
	StatusNotFound
	// StatusUnavail means the RPC or transport failed.
	StatusUnavail
)

// AllPasswd fetches get_all_passwd.
func (c *Cache) AllPasswd() ([]directory.Passwd, Status) {
	var out []directory.Passwd
	if err := c.call("get_all_passwd", nil, &out); err != nil {
		return nil, StatusUnavail
	}
	return out, StatusSuccess
}

// PasswdByName fetches get_passwd_by_name.
func (c *Cache) PasswdByName(name string) (*directory.Passwd, Status) {
	var out *directory.Passwd
	if err := c.call("get_passwd_by_name", name, &out); err != nil {
		return nil, StatusUnavail
	}
	if out == nil {
		return nil, StatusNotFound
	}
	return out, StatusSuccess
}

// PasswdByUID fetches get_passwd_by_uid.
func (c *Cache) PasswdByUID(uid uint32) (*directory.Passwd, Status) {
	var out *directory.Passwd
	if err := c.call("get_passwd_by_uid", uid, &out); err != nil {
		return nil, StatusUnavail
	}
	if out == nil {
		return nil, StatusNotFound
	}
	return out, StatusSuccess
}

// AllGroups fetches get_all_groups.
func (c *Cache) AllGroups() ([]directory.Group, Status) {
	var out []directory.Group
	if err := c.call("get_all_groups", nil, &out); err != nil {
		return nil, StatusUnavail
	}
	return out, StatusSuccess
}

// GroupByName fetches get_group_by_name.
func (c *Cache) GroupByName(name string) (*directory.Group, Status) {
	var out *directory.Group
	if err := c.call("get_group_by_name", name, &out); err != nil {
		return nil, StatusUnavail
	}
	if out == nil {
		return nil, StatusNotFound
	}
	return out, StatusSuccess
}

// GroupByGID fetches get_group_by_gid.
func (c *Cache) GroupByGID(gid uint32) (*directory.Group, Status) {
	var out *directory.Group
	if err := c.call("get_group_by_gid", gid, &out); err != nil {
		return nil, StatusUnavail
	}
	if out == nil {
		return nil, StatusNotFound
	}
	return out, StatusSuccess
}

// AllShadow fetches get_all_shadow. The daemon only answers this on an
// admin-authenticated session; an unauthenticated NSS client always gets
// NotAuthorized back, surfaced here as StatusUnavail.
func (c *Cache) AllShadow() ([]directory.Shadow, Status) {
	var out []directory.Shadow
	if err := c.call("get_all_shadow", nil, &out); err != nil {
		return nil, StatusUnavail
	}
	return out, StatusSuccess
}

// ShadowByName fetches get_shadow_by_name.
func (c *Cache) ShadowByName(name string) (*directory.Shadow, Status) {
	var out *directory.Shadow
	if err := c.call("get_shadow_by_name", name, &out); err != nil {
		return nil, StatusUnavail
	}
	if out == nil {
		return nil, StatusNotFound
	}
	return out, StatusSuccess
}

func (c *Cache) call(method string, params, out any) error {
	return c.WithClient(func(client *rpcclient.Client) error {
		return client.Call(method, params, out)
	})
}
