package directory

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePasswdLine parses one 7-field passwd line: name:x:uid:gid:gecos:dir:shell.
// The password placeholder and stored gid fields are ignored.
func ParsePasswdLine(line string) (Passwd, error) {
	fields := strings.Split(line, ":")
	if len(fields) != 7 {
		return Passwd{}, fmt.Errorf("passwd: expected 7 fields, got %d", len(fields))
	}
	if fields[0] == "" {
		return Passwd{}, fmt.Errorf("passwd: name must not be empty")
	}
	uid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Passwd{}, fmt.Errorf("passwd: invalid uid %q: %w", fields[2], err)
	}
	return Passwd{
		Name:  fields[0],
		ID:    uint32(uid),
		Gecos: fields[4],
		Dir:   fields[5],
		Shell: fields[6],
	}, nil
}

// FormatPasswdLine renders p as a 7-field passwd line, gid emitted equal
// to uid.
func FormatPasswdLine(p Passwd) string {
	return fmt.Sprintf("%s:x:%d:%d:%s:%s:%s", p.Name, p.ID, p.ID, p.Gecos, p.Dir, p.Shell)
}

// ParseGroupLine parses one 4-field group line: name:x:gid:m1,m2,....
// Members may be empty; duplicates are tolerated and left as-is (the
// store does not require callers to de-duplicate the member list).
func ParseGroupLine(line string) (Group, error) {
	fields := strings.Split(line, ":")
	if len(fields) != 4 {
		return Group{}, fmt.Errorf("group: expected 4 fields, got %d", len(fields))
	}
	if fields[0] == "" {
		return Group{}, fmt.Errorf("group: name must not be empty")
	}
	gid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Group{}, fmt.Errorf("group: invalid gid %q: %w", fields[2], err)
	}
	var members []string
	if fields[3] != "" {
		members = strings.Split(fields[3], ",")
	}
	return Group{Name: fields[0], GID: uint32(gid), Members: members}, nil
}

// FormatGroupLine renders g as a 4-field group line.
func FormatGroupLine(g Group) string {
	return fmt.Sprintf("%s:x:%d:%s", g.Name, g.GID, strings.Join(g.Members, ","))
}

// ParseShadowLine parses one 9-field shadow line:
// name:hash:last:min:max:warn:inactive?:expire?:<reserved>.
// Fields 7 and 8 (1-indexed: change_inactive_days, expire_date) are empty
// strings when absent; the trailing field is reserved and always empty.
func ParseShadowLine(line string) (Shadow, error) {
	fields := strings.Split(line, ":")
	if len(fields) != 9 {
		return Shadow{}, fmt.Errorf("shadow: expected 9 fields, got %d", len(fields))
	}
	if fields[0] == "" {
		return Shadow{}, fmt.Errorf("shadow: name must not be empty")
	}
	parseInt := func(name, s string) (int64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("shadow: invalid %s %q: %w", name, s, err)
		}
		return v, nil
	}
	last, err := parseInt("last_change", fields[2])
	if err != nil {
		return Shadow{}, err
	}
	minD, err := parseInt("change_min_days", fields[3])
	if err != nil {
		return Shadow{}, err
	}
	maxD, err := parseInt("change_max_days", fields[4])
	if err != nil {
		return Shadow{}, err
	}
	warn, err := parseInt("change_warn_days", fields[5])
	if err != nil {
		return Shadow{}, err
	}
	var inactive, expire *int64
	if fields[6] != "" {
		v, err := parseInt("change_inactive_days", fields[6])
		if err != nil {
			return Shadow{}, err
		}
		inactive = &v
	}
	if fields[7] != "" {
		v, err := parseInt("expire_date", fields[7])
		if err != nil {
			return Shadow{}, err
		}
		expire = &v
	}
	return Shadow{
		Name:               fields[0],
		Passwd:             fields[1],
		LastChange:         last,
		ChangeMinDays:      minD,
		ChangeMaxDays:      maxD,
		ChangeWarnDays:     warn,
		ChangeInactiveDays: inactive,
		ExpireDate:         expire,
	}, nil
}

// FormatShadowLine renders s as a 9-field shadow line with an always-empty
// reserved trailing field.
func FormatShadowLine(s Shadow) string {
	inactive, expire := "", ""
	if s.ChangeInactiveDays != nil {
		inactive = strconv.FormatInt(*s.ChangeInactiveDays, 10)
	}
	if s.ExpireDate != nil {
		expire = strconv.FormatInt(*s.ExpireDate, 10)
	}
	return fmt.Sprintf("%s:%s:%d:%d:%d:%d:%s:%s:",
		s.Name, s.Passwd, s.LastChange, s.ChangeMinDays, s.ChangeMaxDays, s.ChangeWarnDays,
		inactive, expire)
}
