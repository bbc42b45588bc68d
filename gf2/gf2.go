/*Package gf2 controls the GF2 function generator, a CP2130 USB-to-SPI bridge
driving a DDS waveform generator on channel 0, a 10-bit amplitude DAC on
channel 1 and a comparator that turns the DDS output into a clock.

Physical parameters are encoded to register codes by the pure functions in
this package (AmplitudeCode, FrequencyCode, PhaseCode and their Expected*
counterparts) and written by the methods of Device, each of which is a fixed
sequence of chip select, SPI write, settle delay and chip select release.

A Device is not safe for concurrent use.  Callers that share one must
serialize access, as HTTPWrapper does.
*/
package gf2

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golaborate/gf2/cp2130"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	// VID is the USB vendor ID of the GF2
	VID = 0x10c4

	// PID is the USB product ID of the GF2
	PID = 0x8bf1
)

// SPI channels
const (
	ChannelDDS uint8 = 0
	ChannelDAC uint8 = 1
)

// Frequency and phase register selections
const (
	FSEL0 = false
	FSEL1 = true
	PSEL0 = false
	PSEL1 = true
)

const (
	pinFSEL  = cp2130.GPIO2
	pinPSEL  = cp2130.GPIO3
	pinRESET = cp2130.GPIO4 // DDS reset, active high
	pinDACEN = cp2130.GPIO5
	pinCLKEN = cp2130.GPIO6
)

const (
	settleDelay = 100 * time.Microsecond
	clockCycle  = 10 * time.Millisecond

	spiMaxClock = 12 * physic.MegaHertz
)

var (
	// ErrAmplitudeRange is generated when an amplitude outside
	// [AmplitudeMin, AmplitudeMax] is requested
	ErrAmplitudeRange = errors.New("gf2: amplitude out of range")

	// ErrFrequencyRange is generated when a frequency outside
	// [FrequencyMin, FrequencyMax] is requested
	ErrFrequencyRange = errors.New("gf2: frequency out of range")

	// ErrPhaseValue is generated when the phase is NaN or infinite
	ErrPhaseValue = errors.New("gf2: phase is not a finite number")

	// ErrUnknownWaveform is generated for a waveform other than Sine or Triangle
	ErrUnknownWaveform = errors.New("gf2: unknown waveform")
)

// Bridge is the USB-to-SPI bridge a GF2 is built on.  *cp2130.Device and
// *cp2130.Mock satisfy it.
type Bridge interface {
	IsOpen() bool
	Disconnected() bool
	Close() error
	Reset() error
	SelectCS(channel uint8) error
	DisableCS(channel uint8) error
	SPIWrite(data []byte) error
	ConfigureSPIMode(channel uint8, mode cp2130.SPIMode) error
	DisableSPIDelays(channel uint8) error
	SetGPIO(pin cp2130.Pin, value bool) error
	GPIO(pin cp2130.Pin) (bool, error)
	USBConfig() (cp2130.USBConfig, error)
	SiliconVersion() (cp2130.SiliconVersion, error)
	ManufacturerDesc() (string, error)
	ProductDesc() (string, error)
	SerialDesc() (string, error)
}

// Device is a GF2 function generator
type Device struct {
	bridge Bridge
	sleep  func(time.Duration)
}

// New wraps an open bridge.  The device is not configured; call Setup and
// then Clear to bring it to a known state.
func New(b Bridge) *Device {
	return &Device{bridge: b, sleep: time.Sleep}
}

// Open opens the GF2 with the given serial number.  An empty serial opens the
// first GF2 found.
func Open(serial string) (*Device, error) {
	b, err := cp2130.Open(VID, PID, serial)
	if err != nil {
		return nil, err
	}
	return New(b), nil
}

// ListDevices returns the serial numbers of the attached GF2s
func ListDevices() ([]string, error) {
	return cp2130.ListDevices(VID, PID)
}

// errList accumulates the failures of a sequence that keeps going after a
// step fails
type errList []error

func (l *errList) add(step string, err error) {
	if err == nil {
		return
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range multi.Unwrap() {
			l.add(step, inner)
		}
		return
	}
	*l = append(*l, fmt.Errorf("%s: %w", step, err))
}

func (l errList) err() error {
	if len(l) == 0 {
		return nil
	}
	return errors.Join(l...)
}

// ErrorCount returns the number of failures carried by err.  It is zero for
// nil and one for an error that is not a joined list.
func ErrorCount(err error) int {
	if err == nil {
		return 0
	}
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		n := 0
		for _, inner := range e.Unwrap() {
			n += ErrorCount(inner)
		}
		return n
	case interface{ Unwrap() error }:
		if inner := e.Unwrap(); inner != nil {
			return ErrorCount(inner)
		}
	}
	return 1
}

// txn is one chip select assertion.  Failures are collected, not returned, so
// the chip select is released no matter what happened on the bus.
type txn struct {
	d       *Device
	channel uint8
	errs    errList
}

// write sends data and waits for the peripheral to latch it
func (t *txn) write(data []byte) {
	t.errs.add(fmt.Sprintf("SPIWrite(% X)", data), t.d.bridge.SPIWrite(data))
	t.d.sleep(settleDelay)
}

// switchTo asserts another channel in place of the current one
func (t *txn) switchTo(channel uint8) {
	t.errs.add(fmt.Sprintf("SelectCS(%d)", channel), t.d.bridge.SelectCS(channel))
	t.channel = channel
}

// transaction asserts channel, runs fn and releases whichever channel is
// asserted when fn returns
func (d *Device) transaction(channel uint8, fn func(t *txn)) (err error) {
	t := &txn{d: d, channel: channel}
	defer func() {
		t.errs.add(fmt.Sprintf("DisableCS(%d)", t.channel), d.bridge.DisableCS(t.channel))
		err = t.errs.err()
	}()
	t.errs.add(fmt.Sprintf("SelectCS(%d)", channel), d.bridge.SelectCS(channel))
	fn(t)
	return nil
}

// writeRegister performs a single write to the peripheral on channel
func (d *Device) writeRegister(channel uint8, data []byte) error {
	return d.transaction(channel, func(t *txn) {
		t.write(data)
	})
}

func (d *Device) setPin(pin cp2130.Pin, value bool) error {
	if err := d.bridge.SetGPIO(pin, value); err != nil {
		return fmt.Errorf("SetGPIO(%s, %t): %w", pin, value, err)
	}
	return nil
}

func (d *Device) pin(pin cp2130.Pin) (bool, error) {
	v, err := d.bridge.GPIO(pin)
	if err != nil {
		return false, fmt.Errorf("GPIO(%s): %w", pin, err)
	}
	return v, nil
}

// SetAmplitude sets the output amplitude, in Vpp.  The value actually
// produced is ExpectedAmplitude(amplitude).
func (d *Device) SetAmplitude(amplitude float64) error {
	if !(amplitude >= AmplitudeMin && amplitude <= AmplitudeMax) {
		return fmt.Errorf("%w: %g Vpp is not in [%g, %g]", ErrAmplitudeRange, amplitude, AmplitudeMin, AmplitudeMax)
	}
	return d.writeRegister(ChannelDAC, amplitudeWord(AmplitudeCode(amplitude)))
}

// SetSineWave switches the DDS to a sine output
func (d *Device) SetSineWave() error {
	return d.writeRegister(ChannelDDS, controlWord(ctrlSine))
}

// SetTriangleWave switches the DDS to a triangle output
func (d *Device) SetTriangleWave() error {
	return d.writeRegister(ChannelDDS, controlWord(ctrlTriangle))
}

// SetFrequency loads the frequency register picked by fsel (FSEL0 or FSEL1)
// with frequency, in kHz.  The value actually produced is
// ExpectedFrequency(frequency).  It does not change which register is in use.
func (d *Device) SetFrequency(fsel bool, frequency float64) error {
	if !(frequency >= FrequencyMin && frequency <= FrequencyMax) {
		return fmt.Errorf("%w: %g kHz is not in [%g, %g]", ErrFrequencyRange, frequency, FrequencyMin, FrequencyMax)
	}
	return d.writeRegister(ChannelDDS, frequencyWords(fsel, FrequencyCode(frequency)))
}

// SetPhase loads the phase register picked by psel (PSEL0 or PSEL1) with
// phase, in degrees.  Any finite phase is valid.  The value actually produced
// is ExpectedPhase(phase).  It does not change which register is in use.
func (d *Device) SetPhase(psel bool, phase float64) error {
	if math.IsNaN(phase) || math.IsInf(phase, 0) {
		return fmt.Errorf("%w: %g", ErrPhaseValue, phase)
	}
	return d.writeRegister(ChannelDDS, phaseWord(psel, PhaseCode(phase)))
}

// Clear brings the generator to a known state: sine output, both frequency
// and phase registers zeroed, zero amplitude, DAC and clock enabled,
// FSEL0 and PSEL0 in use and the wave generator running.
//
// Every step is attempted even if an earlier one fails.
func (d *Device) Clear() error {
	var errs errList
	errs.add("SetWaveGenEnabled(false)", d.SetWaveGenEnabled(false))
	errs.add("clear registers", d.transaction(ChannelDDS, func(t *txn) {
		t.write(controlWord(ctrlSine))
		t.write([]byte{
			byte(maskFREQ0 >> 8), 0x00,
			byte(maskFREQ0 >> 8), 0x00,
			byte(maskFREQ1 >> 8), 0x00,
			byte(maskFREQ1 >> 8), 0x00,
			byte(maskPHASE0 >> 8), 0x00,
			byte(maskPHASE1 >> 8), 0x00,
		})
		t.switchTo(ChannelDAC)
		t.write(amplitudeWord(0))
	}))
	errs.add("SetDACEnabled(true)", d.SetDACEnabled(true))
	errs.add("SelectFrequency(FSEL0)", d.SelectFrequency(FSEL0))
	errs.add("SelectPhase(PSEL0)", d.SelectPhase(PSEL0))
	errs.add("SetClockEnabled(true)", d.SetClockEnabled(true))
	errs.add("SetWaveGenEnabled(true)", d.SetWaveGenEnabled(true))
	return errs.err()
}

// Start restarts the wave generator from phase zero
func (d *Device) Start() error {
	var errs errList
	errs.add("SetWaveGenEnabled(false)", d.SetWaveGenEnabled(false))
	errs.add("SetWaveGenEnabled(true)", d.SetWaveGenEnabled(true))
	return errs.err()
}

// Stop halts the wave generator.  If the clock output is enabled it is cycled
// so the comparator settles at a defined level.
func (d *Device) Stop() error {
	var errs errList
	errs.add("SetWaveGenEnabled(false)", d.SetWaveGenEnabled(false))
	clk, err := d.IsClockEnabled()
	errs.add("IsClockEnabled", err)
	if clk {
		errs.add("SetClockEnabled(false)", d.SetClockEnabled(false))
		d.sleep(clockCycle)
		errs.add("SetClockEnabled(true)", d.SetClockEnabled(true))
	}
	return errs.err()
}

// SetWaveform switches the DDS output shape
func (d *Device) SetWaveform(w Waveform) error {
	switch w {
	case Sine:
		return d.SetSineWave()
	case Triangle:
		return d.SetTriangleWave()
	default:
		return fmt.Errorf("%w %q, use %q or %q", ErrUnknownWaveform, string(w), Sine, Triangle)
	}
}

// Waveform is an output shape of the DDS
type Waveform string

// Waveforms
const (
	Sine     Waveform = "sine"
	Triangle Waveform = "triangle"
)

// SelectFrequency picks the frequency register in use, FSEL0 or FSEL1
func (d *Device) SelectFrequency(fsel bool) error {
	return d.setPin(pinFSEL, fsel)
}

// FrequencySelection returns the frequency register in use
func (d *Device) FrequencySelection() (bool, error) {
	return d.pin(pinFSEL)
}

// SelectPhase picks the phase register in use, PSEL0 or PSEL1
func (d *Device) SelectPhase(psel bool) error {
	return d.setPin(pinPSEL, psel)
}

// PhaseSelection returns the phase register in use
func (d *Device) PhaseSelection() (bool, error) {
	return d.pin(pinPSEL)
}

// SetClockEnabled turns the clock output comparator on or off
func (d *Device) SetClockEnabled(enabled bool) error {
	return d.setPin(pinCLKEN, enabled)
}

// IsClockEnabled returns true if the clock output is on
func (d *Device) IsClockEnabled() (bool, error) {
	return d.pin(pinCLKEN)
}

// SetDACEnabled turns the amplitude DAC on or off
func (d *Device) SetDACEnabled(enabled bool) error {
	return d.setPin(pinDACEN, enabled)
}

// IsDACEnabled returns true if the amplitude DAC is on
func (d *Device) IsDACEnabled() (bool, error) {
	return d.pin(pinDACEN)
}

// SetWaveGenEnabled runs or holds the wave generator.  The DDS is held in
// reset while disabled.
func (d *Device) SetWaveGenEnabled(enabled bool) error {
	return d.setPin(pinRESET, !enabled)
}

// IsWaveGenEnabled returns true if the wave generator is running
func (d *Device) IsWaveGenEnabled() (bool, error) {
	reset, err := d.pin(pinRESET)
	return !reset && err == nil, err
}

func (d *Device) setupChannel(channel uint8, mode spi.Mode) error {
	m, err := cp2130.NewSPIMode(mode, spiMaxClock, true)
	if err != nil {
		return err
	}
	var errs errList
	errs.add(fmt.Sprintf("ConfigureSPIMode(%d)", channel), d.bridge.ConfigureSPIMode(channel, m))
	errs.add(fmt.Sprintf("DisableSPIDelays(%d)", channel), d.bridge.DisableSPIDelays(channel))
	return errs.err()
}

// SetupChannel0 configures the DDS channel: 12 MHz, SCK idle high, data
// latched on the falling edge, push-pull chip select, no extra delays
func (d *Device) SetupChannel0() error {
	return d.setupChannel(ChannelDDS, spi.Mode2)
}

// SetupChannel1 configures the DAC channel: 12 MHz, SCK idle low, data
// latched on the falling edge, push-pull chip select, no extra delays
func (d *Device) SetupChannel1() error {
	return d.setupChannel(ChannelDAC, spi.Mode1)
}

// Setup configures both SPI channels
func (d *Device) Setup() error {
	var errs errList
	errs.add("SetupChannel0", d.SetupChannel0())
	errs.add("SetupChannel1", d.SetupChannel1())
	return errs.err()
}

// Reset resets the bridge, and with it the whole GF2.  The bridge
// re-enumerates; the device must be closed and opened again.
func (d *Device) Reset() error {
	return d.bridge.Reset()
}

// IsOpen returns true if the device has not been closed
func (d *Device) IsOpen() bool {
	return d.bridge.IsOpen()
}

// Disconnected returns true if the GF2 was unplugged after it was opened
func (d *Device) Disconnected() bool {
	return d.bridge.Disconnected()
}

// Close releases the bridge
func (d *Device) Close() error {
	return d.bridge.Close()
}

// ManufacturerDesc returns the manufacturer descriptor string
func (d *Device) ManufacturerDesc() (string, error) {
	return d.bridge.ManufacturerDesc()
}

// ProductDesc returns the product descriptor string
func (d *Device) ProductDesc() (string, error) {
	return d.bridge.ProductDesc()
}

// SerialDesc returns the serial number descriptor string
func (d *Device) SerialDesc() (string, error) {
	return d.bridge.SerialDesc()
}

// USBConfig returns the USB configuration of the bridge
func (d *Device) USBConfig() (cp2130.USBConfig, error) {
	return d.bridge.USBConfig()
}

// SiliconVersion returns the silicon version of the bridge
func (d *Device) SiliconVersion() (cp2130.SiliconVersion, error) {
	return d.bridge.SiliconVersion()
}

// HardwareRevision returns the hardware revision of the board, e.g. "A" or
// "B5"
func (d *Device) HardwareRevision() (string, error) {
	cfg, err := d.bridge.USBConfig()
	if err != nil {
		return "", err
	}
	return HardwareRevision(cfg), nil
}
