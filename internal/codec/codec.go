package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shape is the kind of response a command expects.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeInt
	ShapeDouble
	ShapeString
	ShapeBool
)

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeInt:
		return "int"
	case ShapeDouble:
		return "double"
	case ShapeString:
		return "string"
	case ShapeBool:
		return "bool"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Command is a single instrument message and the response it expects.
type Command struct {
	Text   string
	Expect Shape
}

// IsQuery reports whether the command expects a response.
func (c Command) IsQuery() bool {
	return c.Expect != ShapeNone
}

// Terminators for set commands and queries.
const (
	SetTerminator   = ";"
	QueryTerminator = "?"
)

// ErrSyntax is wrapped by every ParseError.
var ErrSyntax = errors.New("syntax")

// ParseError reports a response that does not match the expected shape.
type ParseError struct {
	Input string
	Want  Shape
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q as %s: %v", e.Input, e.Want, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NormalizeDecimal replaces decimal commas with periods.
func NormalizeDecimal(s string) string {
	return strings.ReplaceAll(s, ",", ".")
}

// FormatValue renders v fixed-point with the shortest representation that
// round-trips, using a period separator.
func FormatValue(v float64) string {
	return NormalizeDecimal(strconv.FormatFloat(v, 'f', -1, 64))
}

// FormatSet builds "HEADER value[ suffix];".
func FormatSet(header string, v float64, suffix string) string {
	return formatSet(header, FormatValue(v), suffix)
}

// FormatSetText builds a set command from preformatted numeric text,
// normalizing any decimal comma.
func FormatSetText(header, text, suffix string) string {
	return formatSet(header, NormalizeDecimal(strings.TrimSpace(text)), suffix)
}

func formatSet(header, value, suffix string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte(' ')
	b.WriteString(value)
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	b.WriteString(SetTerminator)
	return b.String()
}

// FormatState builds "HEADER ON;" or "HEADER OFF;".
func FormatState(header string, on bool) string {
	if on {
		return header + " ON" + SetTerminator
	}
	return header + " OFF" + SetTerminator
}

// Action builds a parameterless command such as "*RST;".
func Action(header string) string {
	return header + SetTerminator
}

// Query builds "HEADER?".
func Query(header string) string {
	if strings.HasSuffix(header, QueryTerminator) {
		return header
	}
	return header + QueryTerminator
}

// ParseBool accepts 1/0 and ON/OFF in any case.
func ParseBool(text string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "1", "ON", "+1":
		return true, nil
	case "0", "OFF", "+0":
		return false, nil
	}
	return false, &ParseError{Input: text, Want: ShapeBool, Err: ErrSyntax}
}

// ParseInt parses a decimal integer, allowing a leading sign.
func ParseInt(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, &ParseError{Input: text, Want: ShapeInt, Err: errors.Join(ErrSyntax, err)}
	}
	return n, nil
}

// ParseDouble parses a real number. Decimal commas, exponent notation such
// as "+1.00000E+09" and a trailing base-unit suffix ("12.5 V", "1E9Hz",
// "-30 dBm") are accepted. Scaled units and dangling exponents fail with a
// *ParseError, as do NaN and infinities.
func ParseDouble(text string) (float64, error) {
	s := NormalizeDecimal(stripUnitSuffix(strings.TrimSpace(text)))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Input: text, Want: ShapeDouble, Err: errors.Join(ErrSyntax, err)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Input: text, Want: ShapeDouble, Err: fmt.Errorf("%w: not finite", ErrSyntax)}
	}
	return v, nil
}

// ParseString trims whitespace and one pair of surrounding double quotes.
// An empty response is an error.
func ParseString(text string) (string, error) {
	s := strings.TrimSpace(text)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return "", &ParseError{Input: text, Want: ShapeString, Err: fmt.Errorf("%w: empty response", ErrSyntax)}
	}
	return s, nil
}

// unitSuffixes are the base-unit tags instruments append to readings,
// longest first. Scaled forms ("mV", "GHz") are not readings and stay
// unparsed.
var unitSuffixes = []string{"DBM", "HZ", "V", "A", "S"}

// stripUnitSuffix removes one base-unit tag, case-insensitively, when what
// precedes it ends in a digit or period, so "1E9Hz" keeps its exponent and
// "5e" is left to fail.
func stripUnitSuffix(s string) string {
	upper := strings.ToUpper(s)
	for _, suffix := range unitSuffixes {
		if !strings.HasSuffix(upper, suffix) {
			continue
		}
		trimmed := strings.TrimSpace(s[:len(s)-len(suffix)])
		if trimmed == "" {
			return s
		}
		last := trimmed[len(trimmed)-1]
		if (last >= '0' && last <= '9') || last == '.' {
			return trimmed
		}
		return s
	}
	return s
}
