package config

import (
	"regexp"
	"strconv"
	"time"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// durationPairPattern matches one NuNu... component: a non-negative integer
// immediately followed by one of the unit letters s/m/h/d/w, e.g. the "1w"
// and "2d" halves of "1w2d".
var durationPairPattern = regexp.MustCompile(`(\d+)([smhdw])`)

// unitFactors gives the time.Duration multiplier for each NuNu... unit
// letter: s=second, m=minute, h=hour, d=24h day, w=7d week.
var unitFactors = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// parseUpdateDelay accepts the NuNu... duration grammar ("30s", "3d", or the
// canonical multi-component form "1w2d"), a YAML null, or an absent key
// (both meaning "apply immediately"). An explicitly empty string is a
// configuration mistake, not "no delay", and is rejected, matching the
// original client config loader: bare integers with no unit suffix are not
// accepted either.
func parseUpdateDelay(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		if val == "" {
			return 0, certdeploy.ConfigInvalid("update_delay", val, `be a duration like "30s" or "1w2d", or omitted`)
		}
		d, err := parseDurationPairs(val)
		if err != nil {
			return 0, certdeploy.ConfigInvalid("update_delay", val, `be a duration like "30s" or "1w2d", with u in {s,m,h,d,w}`)
		}
		return d, nil
	default:
		return 0, certdeploy.ConfigInvalid("update_delay", v, `be a duration like "30s" or "1w2d", or omitted`)
	}
}

// parseDurationPairs parses the full NuNu... grammar: one or more
// (non-negative number, unit) pairs concatenated with no separator, covering
// the entire string with nothing left over. Order isn't enforced beyond
// requiring each pair to parse; "1w2d" and "2d1w" both sum the same total.
func parseDurationPairs(val string) (time.Duration, error) {
	matches := durationPairPattern.FindAllStringSubmatchIndex(val, -1)
	if matches == nil {
		return 0, errInvalidDuration
	}

	var total time.Duration
	pos := 0
	for _, m := range matches {
		if m[0] != pos {
			return 0, errInvalidDuration
		}
		n, err := strconv.Atoi(val[m[2]:m[3]])
		if err != nil || n < 0 {
			return 0, errInvalidDuration
		}
		total += time.Duration(n) * unitFactors[val[m[4]:m[5]]]
		pos = m[1]
	}
	if pos != len(val) {
		return 0, errInvalidDuration
	}
	return total, nil
}

var errInvalidDuration = &durationError{}

type durationError struct{}

func (*durationError) Error() string { return "invalid update_delay duration" }
