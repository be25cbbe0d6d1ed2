package gcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoPosition is returned when a response carries fewer than three
// coordinates.
var ErrNoPosition = errors.New("no position in response")

// ParseMove parses a G0/G1 line back into a Move. A missing F word yields
// DefaultFeedrate.
func ParseMove(line string) (Move, error) {
	fields := strings.Fields(stripComment(line))
	if len(fields) == 0 {
		return Move{}, fmt.Errorf("parse move: empty line")
	}
	switch strings.ToUpper(fields[0]) {
	case "G0", "G1":
	default:
		return Move{}, fmt.Errorf("parse move: %q is not a linear move", fields[0])
	}

	feedrate := DefaultFeedrate
	var axes []Axis
	for _, f := range fields[1:] {
		if len(f) < 2 {
			return Move{}, fmt.Errorf("parse move: bad word %q", f)
		}
		letter := toUpper(f[0])
		value, err := strconv.ParseFloat(f[1:], 64)
		if err != nil {
			return Move{}, fmt.Errorf("parse move: word %q: %w", f, err)
		}
		switch letter {
		case 'F':
			feedrate = int(value)
		case 'X', 'Y', 'Z':
			axes = append(axes, Axis{name: letter, value: value})
		default:
			return Move{}, fmt.Errorf("parse move: unexpected word %q", f)
		}
	}

	m, err := NewMove(feedrate, axes...)
	if err != nil {
		return Move{}, fmt.Errorf("parse move: %w", err)
	}
	return m, nil
}

// ParsePosition extracts the three leading numeric fields (x, y, z) from a
// position report such as
//
//	X:100.00 Y:250.00 Z:50.00 E:0.00
//	ok
//
// Axis labels and separators are skipped; lines after "ok" are ignored.
func ParsePosition(response string) (x, y, z float64, err error) {
	var values []float64
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if IsOK(line) {
			break
		}
		for _, tok := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ':' || r == ','
		}) {
			v, ok := parseNumber(tok)
			if !ok {
				continue
			}
			values = append(values, v)
			if len(values) == 3 {
				return values[0], values[1], values[2], nil
			}
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: %q", ErrNoPosition, response)
}

// IsOK reports whether a single response line is an acknowledgement.
func IsOK(line string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "ok")
}

// ResponseOK reports whether a (possibly multi-line) response contains an
// acknowledgement line.
func ResponseOK(response string) bool {
	for _, line := range strings.Split(response, "\n") {
		if IsOK(line) {
			return true
		}
	}
	return false
}

// parseNumber accepts a bare number or one prefixed by a single axis letter
// (X100.00).
func parseNumber(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	if c := toUpper(tok[0]); c >= 'A' && c <= 'Z' {
		if len(tok) == 1 || !strings.ContainsAny(tok[1:2], "+-.0123456789") {
			return 0, false
		}
		tok = tok[1:]
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";("); i >= 0 {
		return line[:i]
	}
	return line
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
