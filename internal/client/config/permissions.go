package config

import (
	"strconv"
	"strings"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// Permissions describes the ownership and mode applied to each promoted
// file and its containing lineage directory.
type Permissions struct {
	Owner         string
	OwnerIsNumber bool
	Group         string
	GroupIsNumber bool
	Mode          *int
	DirectoryMode *int
}

type permissionsYAML struct {
	Owner         any `yaml:"owner"`
	Group         any `yaml:"group"`
	Mode          any `yaml:"mode"`
	DirectoryMode any `yaml:"directory_mode"`
}

func newPermissions(raw permissionsYAML) (Permissions, error) {
	var p Permissions

	owner, ownerIsNum, err := stringOrNumber(raw.Owner, "permissions.owner")
	if err != nil {
		return p, err
	}
	p.Owner, p.OwnerIsNumber = owner, ownerIsNum

	group, groupIsNum, err := stringOrNumber(raw.Group, "permissions.group")
	if err != nil {
		return p, err
	}
	p.Group, p.GroupIsNumber = group, groupIsNum

	if raw.Mode != nil {
		mode, err := modeToInt(raw.Mode)
		if err != nil {
			return p, certdeploy.ConfigInvalidNumber("permissions.mode", raw.Mode, "greater than or equal to 0 and less than or equal to 0o777")
		}
		p.Mode = &mode
	}
	if raw.DirectoryMode != nil {
		mode, err := modeToInt(raw.DirectoryMode)
		if err != nil {
			return p, certdeploy.ConfigInvalidNumber("permissions.directory_mode", raw.DirectoryMode, "greater than or equal to 0 and less than or equal to 0o777")
		}
		p.DirectoryMode = &mode
	}
	return p, nil
}

func stringOrNumber(v any, key string) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case int:
		return strconv.Itoa(val), true, nil
	case string:
		return val, false, nil
	default:
		return "", false, certdeploy.ConfigInvalid(key, v, "be a user/group name (string) or numeric id (integer)")
	}
}

// modeToInt normalizes a mode given as a YAML int or a string (accepting
// "0o777", "0777", or "777" forms, all parsed as octal) to [0, 0o777].
func modeToInt(v any) (int, error) {
	var mode int64
	var err error
	switch val := v.(type) {
	case int:
		mode = int64(val)
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(val, "0o"), "0O")
		if s == val {
			// no 0o prefix; still parse as octal per the original
			// implementation's int(mode, 8) semantics
			s = strings.TrimPrefix(val, "0")
			if s == "" {
				s = "0"
			}
		}
		mode, err = strconv.ParseInt(s, 8, 32)
		if err != nil {
			return 0, err
		}
	default:
		return 0, errInvalidMode
	}
	if mode < 0 || mode > 0o777 {
		return 0, errInvalidMode
	}
	return int(mode), nil
}

var errInvalidMode = &modeError{}

type modeError struct{}

func (*modeError) Error() string { return "invalid mode" }
