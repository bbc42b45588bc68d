package gf2

import (
	"math"
	"strconv"

	"github.com/golaborate/gf2/cp2130"
)

// Limits applicable to SetAmplitude, in volts peak-to-peak
const (
	AmplitudeMin = 0.
	AmplitudeMax = 8.
)

// Limits applicable to SetFrequency, in kHz
const (
	FrequencyMin = 0.
	FrequencyMax = 40000.
)

const (
	// MCLK is the DDS master clock frequency, in kHz
	MCLK = 80000.

	// AQuantum is the full scale code of the 10-bit amplitude DAC
	AQuantum = 1023

	// FQuantum is the number of steps of the 28-bit DDS frequency registers
	FQuantum = 1 << 28

	// PQuantum is the number of steps of the 12-bit DDS phase registers
	PQuantum = 4096
)

// DDS register select masks, the top bits of each 16-bit word
const (
	maskFREQ0  uint16 = 0x4000
	maskFREQ1  uint16 = 0x8000
	maskPHASE0 uint16 = 0xC000
	maskPHASE1 uint16 = 0xE000
)

// DDS control words.  B28 is set so the frequency registers take two
// consecutive 14-bit writes, and PIN/SW is set so FSEL, PSEL and RESET are
// driven by pins rather than by the control register.
const (
	ctrlSine     uint16 = 0x2200
	ctrlTriangle uint16 = 0x2202
)

// AmplitudeCode converts an amplitude in Vpp to the 10-bit DAC code.
// The amplitude must lie in [AmplitudeMin, AmplitudeMax].
func AmplitudeCode(amplitude float64) uint16 {
	return uint16(amplitude*AQuantum/AmplitudeMax + 0.5)
}

// ExpectedAmplitude returns the amplitude the hardware actually produces when
// asked for amplitude, after quantization
func ExpectedAmplitude(amplitude float64) float64 {
	return float64(AmplitudeCode(amplitude)) * AmplitudeMax / AQuantum
}

// FrequencyCode converts a frequency in kHz to the 28-bit DDS tuning word.
// The frequency must lie in [FrequencyMin, FrequencyMax].
func FrequencyCode(frequency float64) uint32 {
	return uint32(frequency*FQuantum/MCLK + 0.5)
}

// ExpectedFrequency returns the frequency the hardware actually produces when
// asked for frequency, after quantization
func ExpectedFrequency(frequency float64) float64 {
	return float64(FrequencyCode(frequency)) * MCLK / FQuantum
}

// normalizePhase reduces phase into [0, 360)
func normalizePhase(phase float64) float64 {
	phaseMod := math.Mod(phase, 360)
	if phaseMod < 0 {
		phaseMod += 360
	}
	return phaseMod
}

// PhaseCode converts a phase in degrees to the 12-bit DDS phase word.  Any
// finite phase is accepted; it is reduced modulo 360 first.
func PhaseCode(phase float64) uint16 {
	// a phase just under 360 rounds up to PQuantum, which is the same angle as 0
	return uint16(normalizePhase(phase)*PQuantum/360+0.5) & (PQuantum - 1)
}

// ExpectedPhase returns the phase the hardware actually produces when asked
// for phase, after quantization, in [0, 360)
func ExpectedPhase(phase float64) float64 {
	return float64(PhaseCode(phase)) * 360 / PQuantum
}

// amplitudeWord builds the two bytes sent to the DAC for an amplitude code.
// Bits 15..14 are don't-care and the power-down bits (13..12) are left clear
// for normal operation.
func amplitudeWord(code uint16) []byte {
	w := (code & AQuantum) << 2
	return []byte{byte(w >> 8), byte(w)}
}

// frequencyWords builds the four bytes that load a 28-bit tuning word into
// the frequency register picked by fsel, LSBs first
func frequencyWords(fsel bool, code uint32) []byte {
	mask := maskFREQ0
	if fsel {
		mask = maskFREQ1
	}
	lo := mask | uint16(code&0x3FFF)
	hi := mask | uint16((code>>14)&0x3FFF)
	return []byte{byte(lo >> 8), byte(lo), byte(hi >> 8), byte(hi)}
}

// phaseWord builds the two bytes that load the phase register picked by psel
func phaseWord(psel bool, code uint16) []byte {
	mask := maskPHASE0
	if psel {
		mask = maskPHASE1
	}
	w := mask | (code & (PQuantum - 1))
	return []byte{byte(w >> 8), byte(w)}
}

// controlWord builds the two bytes of a DDS control register write
func controlWord(ctrl uint16) []byte {
	return []byte{byte(ctrl >> 8), byte(ctrl)}
}

// decodeFrequencyWords reassembles the tuning word from two frequency register
// writes.  It is the inverse of frequencyWords and ignores the register mask.
func decodeFrequencyWords(b []byte) uint32 {
	lo := (uint32(b[0])<<8 | uint32(b[1])) & 0x3FFF
	hi := (uint32(b[2])<<8 | uint32(b[3])) & 0x3FFF
	return hi<<14 | lo
}

// HardwareRevision formats the hardware revision of a board from its USB
// configuration.  A major release of 2 is "A", 3 is "B" and so on up to 27,
// "Z".  The minor release is appended when the major release is 1 or the
// minor release is not zero.
func HardwareRevision(config cp2130.USBConfig) string {
	var revision string
	if config.MajRel > 1 && config.MajRel <= 27 {
		revision += string(rune('A' + config.MajRel - 2))
	}
	if config.MajRel == 1 || config.MinRel != 0 {
		revision += strconv.Itoa(int(config.MinRel))
	}
	return revision
}
