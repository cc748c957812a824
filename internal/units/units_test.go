package units

import (
	"math"
	"testing"
)

func TestConvertAcceleration(t *testing.T) {
	tests := []struct {
		name     string
		mps2     float64
		units    string
		expected float64
	}{
		{"1 g to g", StandardGravity, G, 1.0},
		{"collision spike 11 m/s² to g", 11.0, G, 1.1217},
		{"hard brake 4 m/s² to g", 4.0, G, 0.4079},
		{"mps2 passthrough", 11.0, MPS2, 11.0},
		{"unknown units default to mps2", 11.0, "unknown", 11.0},
		{"zero", 0, G, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertAcceleration(tt.mps2, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertAcceleration(%f, %s) = %f, want %f", tt.mps2, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps2", MPS2, true},
		{"valid g", G, true},
		{"speed unit", "mph", false},
		{"empty string", "", false},
		{"case sensitive", "G", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "mps2, g" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
