package units

import (
	"errors"
	"math"
	"testing"

	"github.com/lab-control/lcc/internal/adapter"
)

func TestValidateAcceptsCommaAndPeriod(t *testing.T) {
	for _, raw := range []string{"12,5", "12.5", " 12.5 "} {
		q, err := Validate(FieldVoltage, raw, "V")
		if err != nil {
			t.Fatalf("Validate(%q) failed: %v", raw, err)
		}
		if q.Value != 12.5 {
			t.Errorf("Validate(%q): expected 12.5, got %v", raw, q.Value)
		}
	}
}

func TestValidateScaleMultipliers(t *testing.T) {
	unbounded := &Validator{}
	tests := []struct {
		field string
		unit  string
		want  float64
	}{
		{FieldPulseWidth, "s", 1},
		{FieldPulseWidth, "ms", 1e-3},
		{FieldPulseWidth, "µs", 1e-6},
		{FieldPulseWidth, "us", 1e-6},
		{FieldPulseWidth, "ns", 1e-9},
		{FieldFrequency, "Hz", 1},
		{FieldFrequency, "kHz", 1e3},
		{FieldFrequency, "MHz", 1e6},
		{FieldFrequency, "GHz", 1e9},
		{FieldVoltage, "mV", 1e-3},
		{FieldCurrentLimit, "mA", 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.unit, func(t *testing.T) {
			q, err := unbounded.Validate(tt.field, "1", tt.unit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(q.Value-tt.want) > tt.want*1e-12 {
				t.Errorf("Expected %v, got %v", tt.want, q.Value)
			}
		})
	}
}

func TestValidatePowerTagsPassThrough(t *testing.T) {
	q, err := Validate(FieldPower, "-10", "dBm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Value != -10 || q.Scale.Tag != adapter.PowerDBM {
		t.Errorf("Expected -10 dBm, got %v %s", q.Value, q.Scale.Tag)
	}

	q, err = Validate(FieldPower, "97", "dBuV")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Value != 97 || q.Scale.Tag != adapter.PowerDBUV {
		t.Errorf("Expected 97 dBuV unscaled, got %v %s", q.Value, q.Scale.Tag)
	}
	if q.PowerDbm() != -10 {
		t.Errorf("Expected -10 dBm equivalent, got %v", q.PowerDbm())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		field string
		raw   string
		unit  string
	}{
		{"not a number", FieldVoltage, "abc", "V"},
		{"empty", FieldVoltage, "", "V"},
		{"nan", FieldVoltage, "NaN", "V"},
		{"infinity", FieldFrequency, "Inf", "Hz"},
		{"unknown unit", FieldFrequency, "1", "THz"},
		{"wrong family", FieldFrequency, "1", "ms"},
		{"case matters", FieldFrequency, "1", "mhz"},
		{"unknown field", "brightness", "1", ""},
		{"above range", FieldVoltage, "41", "V"},
		{"below range", FieldFrequency, "1", "kHz"},
		{"power above range in dBuV", FieldPower, "140", "dBuV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.field, tt.raw, tt.unit)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationError, got %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, ve.Field)
			}
			if !errors.Is(err, adapter.ErrValidation) {
				t.Errorf("Expected ErrValidation in chain")
			}
		})
	}
}

func TestValidateEmptyUnitUsesBase(t *testing.T) {
	q, err := Validate(FieldFrequency, "1000000", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Value != 1e6 || q.Scale.Symbol != "Hz" {
		t.Errorf("Expected 1e6 Hz, got %v %s", q.Value, q.Scale.Symbol)
	}
}

func TestValidatorCustomRanges(t *testing.T) {
	v := NewValidator(map[string]Range{FieldVoltage: {Min: 0, Max: 5}})
	if _, err := v.Validate(FieldVoltage, "6", "V"); err == nil {
		t.Errorf("Expected custom range to reject 6 V")
	}
	if _, err := v.Validate(FieldCurrentLimit, "10", "A"); err != nil {
		t.Errorf("Expected default range for current limit, got %v", err)
	}
}

func TestValidateAllReportsEveryField(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.ValidateAll([]Input{
		{Field: FieldVoltage, Value: "abc", Unit: "V"},
		{Field: FieldCurrentLimit, Value: "1,5", Unit: "A"},
		{Field: FieldOverVoltageProtection, Value: "100", Unit: "V"},
	})

	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("Expected ValidationErrors, got %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("Expected 2 failures, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != FieldVoltage || errs[1].Field != FieldOverVoltageProtection {
		t.Errorf("Unexpected failing fields: %v", errs)
	}
	if !errors.Is(err, adapter.ErrValidation) {
		t.Errorf("Expected ErrValidation in chain")
	}

	qs, err := v.ValidateAll([]Input{
		{Field: FieldVoltage, Value: "12,5", Unit: "V"},
		{Field: FieldCurrentLimit, Value: "500", Unit: "mA"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(qs) != 2 || qs[0].Value != 12.5 || math.Abs(qs[1].Value-0.5) > 1e-12 {
		t.Errorf("Unexpected quantities: %+v", qs)
	}
}
