// Package units converts operator-entered values with unit selectors into
// base SI quantities and validates them against per-field ranges.
package units

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/codec"
)

// Family groups unit selectors that can be converted into each other.
type Family int

const (
	Time Family = iota
	Frequency
	Power
	Voltage
	Current
)

func (f Family) String() string {
	switch f {
	case Time:
		return "time"
	case Frequency:
		return "frequency"
	case Power:
		return "power"
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Scale is one unit selector. Power scales carry a Tag instead of a
// multiplier because logarithmic units are passed to the instrument as-is.
type Scale struct {
	Symbol     string
	Family     Family
	Multiplier float64
	Tag        adapter.PowerUnit
}

// dBµV relative to dBm into 50 Ω.
const dbuvOffset = 107

var scales = []Scale{
	{Symbol: "s", Family: Time, Multiplier: 1},
	{Symbol: "ms", Family: Time, Multiplier: 1e-3},
	{Symbol: "µs", Family: Time, Multiplier: 1e-6},
	{Symbol: "ns", Family: Time, Multiplier: 1e-9},
	{Symbol: "Hz", Family: Frequency, Multiplier: 1},
	{Symbol: "kHz", Family: Frequency, Multiplier: 1e3},
	{Symbol: "MHz", Family: Frequency, Multiplier: 1e6},
	{Symbol: "GHz", Family: Frequency, Multiplier: 1e9},
	{Symbol: "dBm", Family: Power, Multiplier: 1, Tag: adapter.PowerDBM},
	{Symbol: "dBµV", Family: Power, Multiplier: 1, Tag: adapter.PowerDBUV},
	{Symbol: "V", Family: Voltage, Multiplier: 1},
	{Symbol: "mV", Family: Voltage, Multiplier: 1e-3},
	{Symbol: "A", Family: Current, Multiplier: 1},
	{Symbol: "mA", Family: Current, Multiplier: 1e-3},
}

// aliases map alternative spellings onto canonical symbols.
var aliases = map[string]string{
	"us":   "µs",
	"μs":   "µs", // Greek small letter mu
	"dBuV": "dBµV",
	"dBμV": "dBµV",
}

var bySymbol = func() map[string]Scale {
	m := make(map[string]Scale, len(scales))
	for _, s := range scales {
		m[s.Symbol] = s
	}
	return m
}()

// base is the unit used when a selector is empty.
var base = map[Family]string{
	Time:      "s",
	Frequency: "Hz",
	Power:     "dBm",
	Voltage:   "V",
	Current:   "A",
}

// Lookup returns the scale for a selector. Symbols are case sensitive
// ("mHz" is not "MHz").
func Lookup(symbol string) (Scale, bool) {
	symbol = strings.TrimSpace(symbol)
	if canonical, ok := aliases[symbol]; ok {
		symbol = canonical
	}
	s, ok := bySymbol[symbol]
	return s, ok
}

// Symbols returns the accepted canonical selectors for a family.
func Symbols(f Family) []string {
	var out []string
	for _, s := range scales {
		if s.Family == f {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// Field names accepted by Validate.
const (
	FieldVoltage               = "voltage"
	FieldCurrentLimit          = "currentLimit"
	FieldOverVoltageProtection = "overVoltageProtection"
	FieldFrequency             = "frequency"
	FieldPower                 = "power"
	FieldPulseWidth            = "pulseWidth"
	FieldPulsePeriod           = "pulsePeriod"
	FieldDeviation             = "deviation"
	FieldPulseDelay            = "pulseDelay"
)

var fieldFamilies = map[string]Family{
	FieldVoltage:               Voltage,
	FieldCurrentLimit:          Current,
	FieldOverVoltageProtection: Voltage,
	FieldFrequency:             Frequency,
	FieldPower:                 Power,
	FieldPulseWidth:            Time,
	FieldPulsePeriod:           Time,
	FieldDeviation:             Frequency,
	FieldPulseDelay:            Time,
}

// FieldFamily returns the unit family of a field.
func FieldFamily(field string) (Family, bool) {
	f, ok := fieldFamilies[field]
	return f, ok
}

// Fields returns every field name in sorted order.
func Fields() []string {
	out := make([]string, 0, len(fieldFamilies))
	for f := range fieldFamilies {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Range is an inclusive bound in base units (power in dBm).
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultRanges covers the N5746A (40 V / 38 A) and SMB100A with the 6 GHz
// frequency option.
func DefaultRanges() map[string]Range {
	return map[string]Range{
		FieldVoltage:               {Min: 0, Max: 40},
		FieldCurrentLimit:          {Min: 0, Max: 38},
		FieldOverVoltageProtection: {Min: 2, Max: 44},
		FieldFrequency:             {Min: 9e3, Max: 6e9},
		FieldPower:                 {Min: -145, Max: 30},
		FieldPulseWidth:            {Min: 20e-9, Max: 100},
		FieldPulsePeriod:           {Min: 100e-9, Max: 100},
		FieldDeviation:             {Min: 0, Max: 10e6},
		FieldPulseDelay:            {Min: 0, Max: 100},
	}
}

// Quantity is a validated value in base units.
type Quantity struct {
	Field string
	Value float64
	Scale Scale
}

// PowerDbm returns the value expressed in dBm. Only meaningful for power.
func (q Quantity) PowerDbm() float64 {
	if q.Scale.Tag == adapter.PowerDBUV {
		return q.Value - dbuvOffset
	}
	return q.Value
}

// ValidationError reports one rejected field.
type ValidationError struct {
	Field  string
	Value  string
	Unit   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("%s: %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: %q %s: %s", e.Field, e.Value, e.Unit, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return adapter.ErrValidation
}

// ValidationErrors collects per-field failures from ValidateAll.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	out := make([]error, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

// Validator checks values against a range table. The zero value checks
// syntax and units only.
type Validator struct {
	ranges map[string]Range
}

// NewValidator returns a Validator using ranges. Fields missing from ranges
// fall back to DefaultRanges.
func NewValidator(ranges map[string]Range) *Validator {
	merged := DefaultRanges()
	for k, r := range ranges {
		merged[k] = r
	}
	return &Validator{ranges: merged}
}

var defaultValidator = NewValidator(nil)

// Validate converts raw operator text in unit into a base-unit Quantity
// using the default ranges.
func Validate(field, raw, unit string) (Quantity, error) {
	return defaultValidator.Validate(field, raw, unit)
}

// Validate converts raw operator text in unit into a base-unit Quantity.
func (v *Validator) Validate(field, raw, unit string) (Quantity, error) {
	fail := func(reason string) (Quantity, error) {
		return Quantity{}, &ValidationError{Field: field, Value: raw, Unit: unit, Reason: reason}
	}

	family, ok := fieldFamilies[field]
	if !ok {
		return fail("unknown field")
	}

	symbol := unit
	if strings.TrimSpace(symbol) == "" {
		symbol = base[family]
	}
	scale, ok := Lookup(symbol)
	if !ok {
		return fail(fmt.Sprintf("unknown unit (want one of %s)", strings.Join(Symbols(family), ", ")))
	}
	if scale.Family != family {
		return fail(fmt.Sprintf("unit is %s, field expects %s", scale.Family, family))
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return fail("value is empty")
	}
	n, err := strconv.ParseFloat(codec.NormalizeDecimal(text), 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return fail("value overflows")
		}
		return fail("not a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fail("not a finite number")
	}

	q := Quantity{Field: field, Value: n * scale.Multiplier, Scale: scale}

	if r, ok := v.ranges[field]; ok {
		check := q.Value
		if family == Power {
			check = q.PowerDbm()
		}
		if check < r.Min || check > r.Max {
			return fail(fmt.Sprintf("out of range [%s, %s] %s",
				codec.FormatValue(r.Min), codec.FormatValue(r.Max), base[family]))
		}
	}
	return q, nil
}

// Input is one field to validate with ValidateAll.
type Input struct {
	Field string
	Value string
	Unit  string
}

// ValidateAll validates every input and reports all failures together.
// Quantities are returned in input order only when every field passes.
func (v *Validator) ValidateAll(inputs []Input) ([]Quantity, error) {
	out := make([]Quantity, 0, len(inputs))
	var errs ValidationErrors
	for _, in := range inputs {
		q, err := v.Validate(in.Field, in.Value, in.Unit)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				errs = append(errs, ve)
			}
			continue
		}
		out = append(out, q)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}
