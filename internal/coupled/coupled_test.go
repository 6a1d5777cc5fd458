package coupled

import (
	"errors"
	"strings"
	"testing"
)

func TestParseNorm(t *testing.T) {
	tests := []struct {
		in      string
		want    Norm
		wantErr bool
	}{
		{"l1", NormL1, false},
		{"L2", NormL2, false},
		{"linf", NormLInf, false},
		{"inf", NormLInf, false},
		{" LINF ", NormLInf, false},
		{"l3", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseNorm(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseNorm(%q) expected error", tt.in)
			} else if !errors.Is(err, ErrConfiguration) {
				t.Errorf("ParseNorm(%q) error = %v, want ErrConfiguration", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNorm(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNorm(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormString_RoundTrip(t *testing.T) {
	for _, n := range []Norm{NormL1, NormL2, NormLInf} {
		back, err := ParseNorm(n.String())
		if err != nil {
			t.Fatalf("ParseNorm(%q): %v", n.String(), err)
		}
		if back != n {
			t.Errorf("round trip %v -> %q -> %v", n, n.String(), back)
		}
	}
}

func TestParseInitialSource(t *testing.T) {
	tests := []struct {
		in      string
		want    InitialSource
		wantErr bool
	}{
		{"neutronics", InitialNeutronics, false},
		{"heat", InitialHeat, false},
		{"HEAT", InitialHeat, false},
		{"fluids", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseInitialSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInitialSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseInitialSource(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIterationError_Unwrap(t *testing.T) {
	inner := errors.New("backend exploded")
	err := &IterationError{Timestep: 3, Picard: 7, Phase: "solve", Wrapped: inner}

	if !errors.Is(err, inner) {
		t.Error("IterationError did not unwrap to inner error")
	}
	msg := err.Error()
	for _, want := range []string{"timestep 3", "picard 7", inner.Error()} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
