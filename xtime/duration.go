package xtime

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Units larger than an hour, from largest to smallest. A month is 30 days and a
// year is 365 days.
var longUnits = []struct {
	symbols string
	dur     time.Duration
}{
	{"Yy", 365 * day},
	{"M", 30 * day},
	{"wW", 7 * day},
	{"dD", day},
}

var componentRx = regexp.MustCompile(`(\d*\.\d+|\d+)[^\d.]*`)

// ParseDuration parses a duration string. In addition to the units supported
// by time.ParseDuration, it accepts "d"/"D" (days), "w"/"W" (weeks),
// "M" (months) and "y"/"Y" (years), e.g. "30d", "-1.5w" or "1Y2M3d".
func ParseDuration(s string) (time.Duration, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", s)
	}

	var total time.Duration
	for _, comp := range componentRx.FindAllString(s, -1) {
		mult := time.Duration(1)
		for _, u := range longUnits {
			if i := strings.IndexAny(comp, u.symbols); i > 0 {
				comp = comp[:i] + "h"
				mult = u.dur / time.Hour
				break
			}
		}

		dur, err := time.ParseDuration(comp)
		if err != nil {
			return 0, err //nolint:wrapcheck // The stdlib error is descriptive enough.
		}
		total += dur * mult
	}

	if neg {
		total = -total
	}

	return total, nil
}

// FormatDuration formats d using the units accepted by ParseDuration, omitting
// any component smaller than round. E.g. 36h with round=time.Hour is "1d12h".
func FormatDuration(d, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0d"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	for _, u := range longUnits {
		if n := d / u.dur; n > 0 {
			fmt.Fprintf(&sb, "%d%c", n, u.symbols[0])
			d -= n * u.dur
		}
	}

	for _, u := range []struct {
		sym string
		dur time.Duration
	}{{"h", time.Hour}, {"m", time.Minute}, {"s", time.Second}} {
		if round > u.dur {
			break
		}
		if n := d / u.dur; n > 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.sym)
			d -= n * u.dur
		}
	}

	if sb.Len() == 0 || sb.String() == "-" {
		return "0d"
	}

	return sb.String()
}
