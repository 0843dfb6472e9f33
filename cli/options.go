package cli

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"go.hackfix.me/natmgr/xtime"
)

// DurationMapper parses positive durations with the extended units accepted
// by xtime.ParseDuration, e.g. "30d" or "1w12h".
type DurationMapper struct{}

var _ kong.Mapper = (*DurationMapper)(nil)

// Decode implements the kong.Mapper interface.
func (DurationMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("duration", &value)
	if err != nil {
		return err
	}

	dur, err := parseDuration(value)
	if err != nil {
		return err
	}

	target.Set(reflect.ValueOf(dur))

	return nil
}

func parseDuration(value string) (time.Duration, error) {
	dur, err := xtime.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", value, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid duration '%s': must be greater than 0", value)
	}

	return dur, nil
}

// portRange is a single port ("8080") or an inclusive range of ports
// ("8000-8010") given on the command line.
type portRange struct {
	first, last uint16
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (r *portRange) UnmarshalText(text []byte) error {
	first, last, isRange := strings.Cut(string(text), "-")
	if !isRange {
		last = first
	}

	var err error
	if r.first, err = parsePort(first); err != nil {
		return err
	}
	if r.last, err = parsePort(last); err != nil {
		return err
	}
	if r.last < r.first {
		return fmt.Errorf("invalid port range '%s'", text)
	}

	return nil
}

func parsePort(val string) (uint16, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(val), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port '%s'", val)
	}
	if port == 0 {
		return 0, errors.New("port must be greater than 0")
	}

	return uint16(port), nil
}

// expandPorts returns all ports in ranges, in the given order.
func expandPorts(ranges []portRange) []uint16 {
	var ports []uint16
	for _, r := range ranges {
		for p := int(r.first); p <= int(r.last); p++ {
			ports = append(ports, uint16(p))
		}
	}

	return ports
}
