package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>[+-]?\d+)H)?(?:(?P<minute>[+-]?\d+)M)?(?:(?P<second>[+-]?\d+(?:[.,]\d+)?)S)?)?$`)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseISODuration parses the subset of ISO 8601 durations used in the
// configuration: days, hours, minutes and (fractional) seconds, e.g. PT0.25S or P1DT6H.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" || !isoDurationRx.MatchString(dur) {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)

	// P2M is ambiguous (months or minutes), minutes require the T designator
	hasT := strings.Contains(dur, "T")
	hasHMS := false

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}

		num, frac, err := splitFraction(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			hasHMS = true
			hasT = true
			unit = time.Hour
		case "minute":
			hasHMS = true
			if !hasT {
				return 0, ErrISOFormat
			}
			unit = time.Minute
		case "second":
			hasHMS = true
			unit = time.Second
		default:
			return 0, fmt.Errorf("unknown component %s", name)
		}
		ret += time.Duration(num) * unit
		if num >= 0 {
			ret += time.Duration(frac * float64(unit))
		} else {
			ret -= time.Duration(frac * float64(unit))
		}
	}

	// P2DT
	if hasT && !hasHMS {
		return 0, ErrISOFormat
	}

	return ret, nil
}

// DurationOr parses dur, an empty string yields def.
func DurationOr(dur string, def time.Duration) (time.Duration, error) {
	if dur == "" {
		return def, nil
	}
	d, err := ParseISODuration(dur)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", dur, err)
	}
	return d, nil
}

func splitFraction(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	a, b, ok := strings.Cut(s, ".")
	if ok {
		if len(b) > 9 {
			return 0, 0, ErrISOFormat
		}
		var f int
		f, err = strconv.Atoi(b)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		if f != 0 {
			frac = float64(f) / math.Pow10(len(b))
		}
	}
	num, err = strconv.Atoi(a)
	if err != nil {
		err = fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, err
}
