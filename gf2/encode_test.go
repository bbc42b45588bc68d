package gf2

import (
	"fmt"
	"math"
	"testing"

	"github.com/golaborate/gf2/cp2130"
)

func TestExpectedAmplitudeIsIdempotent(t *testing.T) {
	for i := 0; i <= 8000; i++ {
		a := float64(i) / 1000
		e := ExpectedAmplitude(a)
		if ExpectedAmplitude(e) != e {
			t.Fatalf("amplitude %g: expected %g re-encoded to %g", a, e, ExpectedAmplitude(e))
		}
	}
}

func TestAmplitudeCodeEndpoints(t *testing.T) {
	if c := AmplitudeCode(AmplitudeMin); c != 0 {
		t.Errorf("expected code 0 at the minimum, got %d", c)
	}
	if c := AmplitudeCode(AmplitudeMax); c != AQuantum {
		t.Errorf("expected code %d at the maximum, got %d", AQuantum, c)
	}
	if e := ExpectedAmplitude(AmplitudeMax); e != AmplitudeMax {
		t.Errorf("expected full scale to be exact, got %g", e)
	}
}

func TestFrequencyCodeAtMaximumFitsIn28Bits(t *testing.T) {
	c := FrequencyCode(FrequencyMax)
	if c != 1<<27 {
		t.Errorf("expected 2^27, got %d", c)
	}
	if c >= FQuantum {
		t.Errorf("code %d does not fit in 28 bits", c)
	}
}

func TestExpectedFrequency(t *testing.T) {
	for i := 0; i <= 40000; i += 7 {
		f := float64(i)
		truth := math.Floor(f*FQuantum/MCLK+0.5) * MCLK / FQuantum
		e := ExpectedFrequency(f)
		if e != truth {
			t.Fatalf("frequency %g: expected %g, got %g", f, truth, e)
		}
		if ExpectedFrequency(e) != e {
			t.Fatalf("frequency %g: expected %g re-encoded to %g", f, e, ExpectedFrequency(e))
		}
	}
}

func TestExpectedPhaseIsPeriodic(t *testing.T) {
	if ExpectedPhase(-90) != ExpectedPhase(270) {
		t.Errorf("-90 gave %g, 270 gave %g", ExpectedPhase(-90), ExpectedPhase(270))
	}
	for p := -1080; p <= 1080; p++ {
		f := float64(p)
		if ExpectedPhase(f) != ExpectedPhase(f+360) {
			t.Errorf("%d and %d deg differ", p, p+360)
		}
		e := ExpectedPhase(f)
		if e < 0 || e >= 360 {
			t.Errorf("%d deg gave %g, outside [0, 360)", p, e)
		}
	}
}

func TestPhaseCodeWrapsAt360(t *testing.T) {
	tc := []struct {
		phase float64
		code  uint16
	}{
		{0, 0},
		{90, 1024},
		{180, 2048},
		{270, 3072},
		{-90, 3072},
		{359.99, 0},
		{720, 0},
	}
	for _, c := range tc {
		if got := PhaseCode(c.phase); got != c.code {
			t.Errorf("phase %g: expected code %d, got %d", c.phase, c.code, got)
		}
	}
}

func TestFrequencyWords(t *testing.T) {
	tc := []struct {
		fsel  bool
		truth []byte
	}{
		{FSEL0, []byte{0x73, 0x33, 0x40, 0xCC}},
		{FSEL1, []byte{0xB3, 0x33, 0x80, 0xCC}},
	}
	for _, c := range tc {
		got := frequencyWords(c.fsel, FrequencyCode(1000))
		if len(got) != len(c.truth) {
			t.Fatalf("expected %d bytes, got %d", len(c.truth), len(got))
		}
		for i := range c.truth {
			if got[i] != c.truth[i] {
				t.Errorf("fsel %t byte %d mismatch, expected 0x%02X got 0x%02X", c.fsel, i, c.truth[i], got[i])
			}
		}
		if decodeFrequencyWords(got) != FrequencyCode(1000) {
			t.Errorf("fsel %t: words decode to %d, expected %d", c.fsel, decodeFrequencyWords(got), FrequencyCode(1000))
		}
	}
}

func TestAmplitudeAndPhaseWords(t *testing.T) {
	a := amplitudeWord(AQuantum)
	if a[0] != 0x0F || a[1] != 0xFC {
		t.Errorf("full scale amplitude word expected 0F FC, got % X", a)
	}
	p := phaseWord(PSEL1, PhaseCode(90))
	if p[0] != 0xE4 || p[1] != 0x00 {
		t.Errorf("PHASE1 90 deg expected E4 00, got % X", p)
	}
	p = phaseWord(PSEL0, PhaseCode(270))
	if p[0] != 0xCC || p[1] != 0x00 {
		t.Errorf("PHASE0 270 deg expected CC 00, got % X", p)
	}
	c := controlWord(ctrlTriangle)
	if c[0] != 0x22 || c[1] != 0x02 {
		t.Errorf("triangle control word expected 22 02, got % X", c)
	}
}

func TestHardwareRevision(t *testing.T) {
	tc := []struct {
		maj, min uint8
		truth    string
	}{
		{2, 0, "A"},
		{1, 0, "0"},
		{0, 0, ""},
		{3, 5, "B5"},
		{27, 0, "Z"},
		{28, 0, ""},
		{0, 4, "4"},
	}
	for _, c := range tc {
		got := HardwareRevision(cp2130.USBConfig{MajRel: c.maj, MinRel: c.min})
		if got != c.truth {
			t.Errorf("(%d, %d): expected %q, got %q", c.maj, c.min, c.truth, got)
		}
	}
}

func ExampleHardwareRevision() {
	fmt.Println(HardwareRevision(cp2130.USBConfig{MajRel: 3, MinRel: 5}))
	// Output: B5
}

func ExampleExpectedPhase() {
	fmt.Println(ExpectedPhase(-90), ExpectedPhase(450))
	// Output: 270 90
}
