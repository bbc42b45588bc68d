/*Package cp2130 is a minimal driver for the Silicon Labs CP2130 USB-to-SPI
bridge.  It implements only what is needed to run fixed SPI peripherals
behind the bridge:

	1.  open and close a bridge, optionally by serial number
	2.  configure the SPI mode of a channel and strip its extra delays
	3.  assert and release chip selects
	4.  write raw bytes on the SPI bus
	5.  set and read GPIO pins
	6.  read the USB configuration, descriptor strings and silicon version

Configuration is done with vendor control requests (AN792 table 4) and SPI
data travels on the bulk OUT endpoint, each transfer prefixed with an 8 byte
command header.

Reads on the SPI bus (write-read transfers, the event counter, OTP ROM
programming) are not implemented.
*/
package cp2130

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	// EPOut is the address of the bulk OUT endpoint used for SPI writes
	EPOut = 0x01

	// Channels is the number of chip select channels on the bridge
	Channels = 11
)

// vendor requests, per AN792
const (
	reqResetDevice       = 0x10
	reqGetReadOnlyVer    = 0x11
	reqGetGPIOValues     = 0x20
	reqSetGPIOValues     = 0x21
	reqSetGPIOChipSelect = 0x25
	reqSetSPIWord        = 0x31
	reqSetSPIDelay       = 0x33
	reqGetUSBConfig      = 0x60
)

// bulk transfer commands
const (
	cmdRead  = 0x00
	cmdWrite = 0x01
)

// chip select control values for Set_GPIO_Chip_Select
const (
	csIdle             = 0x00
	csActive           = 0x01
	csActiveOthersIdle = 0x02
)

var (
	// ErrClosed is generated when an operation is attempted on a closed bridge
	ErrClosed = errors.New("cp2130: device is closed")

	// ErrNotFound is generated when no bridge matches the requested VID, PID and serial
	ErrNotFound = errors.New("cp2130: device not found")

	// ErrBadChannel is generated for a chip select channel the bridge does not have
	ErrBadChannel = errors.New("cp2130: invalid channel")

	// ErrBadPin is generated for a GPIO pin the bridge does not have
	ErrBadPin = errors.New("cp2130: invalid GPIO pin")
)

// Pin is one of the eleven GPIO pins of the bridge.  GPIO0 through GPIO10
// double as chip select lines 0 through 10.
type Pin uint8

// GPIO pins
const (
	GPIO0 Pin = iota
	GPIO1
	GPIO2
	GPIO3
	GPIO4
	GPIO5
	GPIO6
	GPIO7
	GPIO8
	GPIO9
	GPIO10
)

// pinMask maps a pin to its bit in the 16-bit GPIO values word.
// bit 9 is unused by the silicon, so GPIO6 and up skip it.
var pinMask = [...]uint16{
	0x0008, 0x0010, 0x0020, 0x0040, 0x0080, 0x0100,
	0x0400, 0x0800, 0x1000, 0x2000, 0x4000,
}

// Mask returns the bit of this pin in the GPIO values word
func (p Pin) Mask() (uint16, error) {
	if int(p) >= len(pinMask) {
		return 0, fmt.Errorf("%w: %d", ErrBadPin, p)
	}
	return pinMask[p], nil
}

// String returns the datasheet name of the pin
func (p Pin) String() string {
	return fmt.Sprintf("GPIO%d", uint8(p))
}

// ClockRate is one of the eight SPI clock frequencies the bridge can generate
type ClockRate uint8

// Clock rates.  Each halves the previous one.
const (
	CFRQ12M ClockRate = iota
	CFRQ6M
	CFRQ3M
	CFRQ1500K
	CFRQ750K
	CFRQ375K
	CFRQ187K5
	CFRQ93K75
)

// Frequency returns the SCK frequency of the clock rate
func (c ClockRate) Frequency() physic.Frequency {
	return (12 * physic.MegaHertz) >> (c & 0x07)
}

// SPIMode is the per-channel SPI configuration held in the bridge's SPI word
type SPIMode struct {
	// CSPushPull drives the chip select line push-pull instead of open-drain
	CSPushPull bool

	// Rate is the SCK frequency
	Rate ClockRate

	// CPOL is the clock polarity; true idles SCK high
	CPOL bool

	// CPHA is the clock phase; true samples on the trailing edge
	CPHA bool
}

// NewSPIMode builds an SPIMode from a periph SPI mode and a maximum clock
// frequency.  The fastest bridge rate that does not exceed max is chosen.
// Only the clock polarity and phase bits of mode are supported.
func NewSPIMode(mode spi.Mode, max physic.Frequency, pushPull bool) (SPIMode, error) {
	if mode&^spi.Mode3 != 0 {
		return SPIMode{}, fmt.Errorf("cp2130: unsupported SPI mode flags %v", mode)
	}
	if max < CFRQ93K75.Frequency() {
		return SPIMode{}, fmt.Errorf("cp2130: clock %s is below the minimum rate %s", max, CFRQ93K75.Frequency())
	}
	rate := CFRQ12M
	for rate.Frequency() > max {
		rate++
	}
	return SPIMode{
		CSPushPull: pushPull,
		Rate:       rate,
		CPOL:       mode&spi.Mode2 != 0,
		CPHA:       mode&spi.Mode1 != 0,
	}, nil
}

// Mode returns the periph SPI mode equivalent to the polarity and phase
func (m SPIMode) Mode() spi.Mode {
	out := spi.Mode0
	if m.CPOL {
		out |= spi.Mode2
	}
	if m.CPHA {
		out |= spi.Mode1
	}
	return out
}

// word encodes the mode as the Set_SPI_Word payload byte
func (m SPIMode) word() byte {
	/* bit map:
	7..6 reserved
	5 CPHA
	4 CPOL
	3 chip select mode, 1 = push-pull
	2..0 clock frequency
	*/
	w := byte(m.Rate & 0x07)
	if m.CSPushPull {
		w |= 1 << 3
	}
	if m.CPOL {
		w |= 1 << 4
	}
	if m.CPHA {
		w |= 1 << 5
	}
	return w
}

// USBConfig is the USB configuration record of the bridge
type USBConfig struct {
	VID     uint16 // vendor ID
	PID     uint16 // product ID
	MaxPow  uint8  // maximum power, in units of 2 mA
	PowMode uint8  // power mode
	MajRel  uint8  // major release number
	MinRel  uint8  // minor release number
	TrfPrio uint8  // transfer priority
}

// parseUSBConfig decodes the response to Get_USB_Config
func parseUSBConfig(b []byte) (USBConfig, error) {
	if len(b) < 9 {
		return USBConfig{}, fmt.Errorf("cp2130: USB config response is %d bytes, need 9", len(b))
	}
	return USBConfig{
		VID:     binary.LittleEndian.Uint16(b[0:2]),
		PID:     binary.LittleEndian.Uint16(b[2:4]),
		MaxPow:  b[4],
		PowMode: b[5],
		MajRel:  b[6],
		MinRel:  b[7],
		TrfPrio: b[8],
	}, nil
}

// SiliconVersion is the read-only version of the bridge silicon
type SiliconVersion struct {
	Maj uint8
	Min uint8
}

func (v SiliconVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Maj, v.Min)
}

// encSPIWriteHeader creates the bulk header preceding n bytes of SPI write data
func encSPIWriteHeader(n int) [8]byte {
	/* data map by offset:
	0-1 reserved
	2 command, 0x01 for write
	3 reserved
	4-7 number of bytes to write, LSB first
	*/
	out := [8]byte{}
	out[2] = cmdWrite
	binary.LittleEndian.PutUint32(out[4:8], uint32(n))
	return out
}

// encGPIOValues creates the Set_GPIO_Values payload that drives a single pin
func encGPIOValues(pin Pin, value bool) ([]byte, error) {
	mask, err := pin.Mask()
	if err != nil {
		return nil, err
	}
	var level uint16
	if value {
		level = mask
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], level)
	binary.BigEndian.PutUint16(buf[2:4], mask)
	return buf, nil
}

// decGPIOValue extracts a pin level from a Get_GPIO_Values response
func decGPIOValue(b []byte, pin Pin) (bool, error) {
	if len(b) < 2 {
		return false, fmt.Errorf("cp2130: GPIO values response is %d bytes, need 2", len(b))
	}
	mask, err := pin.Mask()
	if err != nil {
		return false, err
	}
	return binary.BigEndian.Uint16(b)&mask != 0, nil
}

func checkChannel(channel uint8) error {
	if channel >= Channels {
		return fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	return nil
}
