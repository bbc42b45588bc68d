package cp2130

import (
	"fmt"
	"sync"
	"time"
)

// Call is one operation recorded by a Mock
type Call struct {
	// Op is the name of the method called, e.g. "SelectCS"
	Op string

	// Channel is the chip select channel, for channel operations
	Channel uint8

	// Pin is the GPIO pin, for pin operations
	Pin Pin

	// Value is the level written to or read from a pin
	Value bool

	// Data is a copy of the bytes written by SPIWrite
	Data []byte

	// Mode is the SPI mode written by ConfigureSPIMode
	Mode SPIMode

	// Delay is the duration recorded by Delay
	Delay time.Duration
}

func (c Call) String() string {
	switch c.Op {
	case "SelectCS", "DisableCS", "DisableSPIDelays":
		return fmt.Sprintf("%s(%d)", c.Op, c.Channel)
	case "ConfigureSPIMode":
		return fmt.Sprintf("%s(%d, %+v)", c.Op, c.Channel, c.Mode)
	case "SPIWrite":
		return fmt.Sprintf("%s(% X)", c.Op, c.Data)
	case "SetGPIO", "GPIO":
		return fmt.Sprintf("%s(%s, %t)", c.Op, c.Pin, c.Value)
	case "Delay":
		return fmt.Sprintf("%s(%s)", c.Op, c.Delay)
	default:
		return c.Op + "()"
	}
}

// Mock is an in-memory stand-in for a bridge.  It tracks pin levels and the
// selected chip select, and records every call in order.  Operations named in
// Fail return that error without changing state.
type Mock struct {
	sync.Mutex

	// Calls is the ordered log of operations
	Calls []Call

	// Fail maps an operation name to the error it should return
	Fail map[string]error

	// Config is returned by USBConfig
	Config USBConfig

	// Version is returned by SiliconVersion
	Version SiliconVersion

	// Manufacturer, Product and Serial are the descriptor strings
	Manufacturer string
	Product      string
	Serial       string

	// Unplugged is returned by Disconnected
	Unplugged bool

	pins   [len(pinMask)]bool
	cs     int
	closed bool
}

// NewMock returns a Mock reporting the given vendor and product ID, with no
// chip select asserted and all pins low
func NewMock(vid, pid uint16, serial string) *Mock {
	return &Mock{
		Fail:         map[string]error{},
		Config:       USBConfig{VID: vid, PID: pid, MaxPow: 0x32, MajRel: 1, MinRel: 0},
		Version:      SiliconVersion{Maj: 1, Min: 0},
		Manufacturer: "Silicon Labs",
		Product:      "CP2130 mock",
		Serial:       serial,
		cs:           -1,
	}
}

func (m *Mock) record(c Call) error {
	m.Calls = append(m.Calls, c)
	if m.closed && c.Op != "Close" && c.Op != "Delay" {
		return ErrClosed
	}
	if err, ok := m.Fail[c.Op]; ok && err != nil {
		return err
	}
	return nil
}

// ResetCalls clears the call log
func (m *Mock) ResetCalls() {
	m.Lock()
	defer m.Unlock()
	m.Calls = nil
}

// Ops returns the names of the recorded operations, in order
func (m *Mock) Ops() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Op
	}
	return out
}

// Selected returns the asserted chip select channel, or -1 if none is
func (m *Mock) Selected() int {
	m.Lock()
	defer m.Unlock()
	return m.cs
}

// Level returns the current level of pin without recording a call
func (m *Mock) Level(pin Pin) bool {
	m.Lock()
	defer m.Unlock()
	if int(pin) >= len(m.pins) {
		return false
	}
	return m.pins[pin]
}

// Delay records a wait.  It does not sleep.
func (m *Mock) Delay(d time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.record(Call{Op: "Delay", Delay: d})
}

// IsOpen returns true until Close is called
func (m *Mock) IsOpen() bool {
	m.Lock()
	defer m.Unlock()
	return !m.closed
}

// Disconnected returns Unplugged
func (m *Mock) Disconnected() bool {
	m.Lock()
	defer m.Unlock()
	m.Calls = append(m.Calls, Call{Op: "Disconnected"})
	return m.Unplugged && !m.closed
}

// Close marks the mock closed; later operations fail with ErrClosed
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "Close"}); err != nil {
		return err
	}
	m.closed = true
	return nil
}

// Reset returns pins and chip selects to their power-on state
func (m *Mock) Reset() error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "Reset"}); err != nil {
		return err
	}
	m.pins = [len(pinMask)]bool{}
	m.cs = -1
	return nil
}

// SelectCS asserts channel and releases the others
func (m *Mock) SelectCS(channel uint8) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "SelectCS", Channel: channel}); err != nil {
		return err
	}
	if err := checkChannel(channel); err != nil {
		return err
	}
	m.cs = int(channel)
	return nil
}

// DisableCS releases channel
func (m *Mock) DisableCS(channel uint8) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "DisableCS", Channel: channel}); err != nil {
		return err
	}
	if err := checkChannel(channel); err != nil {
		return err
	}
	if m.cs == int(channel) {
		m.cs = -1
	}
	return nil
}

// SPIWrite records data
func (m *Mock) SPIWrite(data []byte) error {
	m.Lock()
	defer m.Unlock()
	cpy := make([]byte, len(data))
	copy(cpy, data)
	return m.record(Call{Op: "SPIWrite", Data: cpy})
}

// ConfigureSPIMode records mode for channel
func (m *Mock) ConfigureSPIMode(channel uint8, mode SPIMode) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "ConfigureSPIMode", Channel: channel, Mode: mode}); err != nil {
		return err
	}
	return checkChannel(channel)
}

// DisableSPIDelays records the call for channel
func (m *Mock) DisableSPIDelays(channel uint8) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "DisableSPIDelays", Channel: channel}); err != nil {
		return err
	}
	return checkChannel(channel)
}

// SetGPIO drives pin to value
func (m *Mock) SetGPIO(pin Pin, value bool) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "SetGPIO", Pin: pin, Value: value}); err != nil {
		return err
	}
	if _, err := pin.Mask(); err != nil {
		return err
	}
	m.pins[pin] = value
	return nil
}

// GPIO reads the level of pin
func (m *Mock) GPIO(pin Pin) (bool, error) {
	m.Lock()
	defer m.Unlock()
	var v bool
	if int(pin) < len(m.pins) {
		v = m.pins[pin]
	}
	if err := m.record(Call{Op: "GPIO", Pin: pin, Value: v}); err != nil {
		return false, err
	}
	if _, err := pin.Mask(); err != nil {
		return false, err
	}
	return v, nil
}

// USBConfig returns Config
func (m *Mock) USBConfig() (USBConfig, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "USBConfig"}); err != nil {
		return USBConfig{}, err
	}
	return m.Config, nil
}

// SiliconVersion returns Version
func (m *Mock) SiliconVersion() (SiliconVersion, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "SiliconVersion"}); err != nil {
		return SiliconVersion{}, err
	}
	return m.Version, nil
}

// ManufacturerDesc returns Manufacturer
func (m *Mock) ManufacturerDesc() (string, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "ManufacturerDesc"}); err != nil {
		return "", err
	}
	return m.Manufacturer, nil
}

// ProductDesc returns Product
func (m *Mock) ProductDesc() (string, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "ProductDesc"}); err != nil {
		return "", err
	}
	return m.Product, nil
}

// SerialDesc returns Serial
func (m *Mock) SerialDesc() (string, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: "SerialDesc"}); err != nil {
		return "", err
	}
	return m.Serial, nil
}
