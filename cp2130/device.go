package cp2130

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"
)

const (
	reqTypeIn  = gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice
	reqTypeOut = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice
)

// Device is a CP2130 opened over libusb.  It is not safe for concurrent use;
// the chip select state is shared across calls.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	out    *gousb.OutEndpoint
	closer func()
}

// Open opens the first bridge with the given vendor and product ID whose
// serial number matches serial.  An empty serial matches any bridge.
//
// A bridge that is busy (claimed by another process, or still re-enumerating
// after a reset) is retried with an exponential backoff for a few seconds.
func Open(vid, pid uint16, serial string) (*Device, error) {
	var d *Device
	op := func() error {
		var err error
		d, err = open(vid, pid, serial)
		if err == nil {
			return nil
		}
		if errors.Is(err, gousb.ErrorBusy) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func open(vid, pid uint16, serial string) (*Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	// OpenDevices may return devices alongside an error for ones it could not open
	var dev *gousb.Device
	for _, candidate := range devs {
		if dev == nil && matchSerial(candidate, serial) {
			dev = candidate
			continue
		}
		candidate.Close()
	}
	if dev == nil {
		ctx.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: VID=%04x PID=%04x serial=%q", ErrNotFound, vid, pid, serial)
	}

	out := &Device{ctx: ctx, dev: dev}
	if err = dev.SetAutoDetach(true); err != nil {
		out.Close()
		return nil, err
	}
	out.iface, out.closer, err = dev.DefaultInterface()
	if err != nil {
		out.Close()
		return nil, interfaceError(err)
	}
	out.out, err = out.iface.OutEndpoint(EPOut)
	if err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// interfaceError restores the libusb error code of a failed claim, which
// DefaultInterface formats into its message with %v
func interfaceError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "busy") {
		return fmt.Errorf("DefaultInterface(): %w (%v)", gousb.ErrorBusy, err)
	}
	return fmt.Errorf("DefaultInterface(): %w", err)
}

func matchSerial(dev *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	s, err := dev.SerialNumber()
	return err == nil && s == serial
}

// ListDevices returns the serial numbers of all attached bridges with the
// given vendor and product ID
func ListDevices(vid, pid uint16) ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	serials := make([]string, 0, len(devs))
	for _, dev := range devs {
		s, serr := dev.SerialNumber()
		if serr == nil {
			serials = append(serials, s)
		}
		dev.Close()
	}
	return serials, err
}

// IsOpen returns true if the device has not been closed
func (d *Device) IsOpen() bool {
	return d != nil && d.dev != nil
}

// Disconnected returns true if the bridge was unplugged after it was opened.
// It costs one control transfer.
func (d *Device) Disconnected() bool {
	if !d.IsOpen() {
		return false
	}
	_, err := d.controlIn(reqGetReadOnlyVer, 2)
	return errors.Is(err, gousb.ErrorNoDevice)
}

// Close releases the interface and closes the device.  Closing a closed
// device is a no-op.
func (d *Device) Close() error {
	if !d.IsOpen() {
		return nil
	}
	if d.closer != nil {
		d.closer()
		d.closer = nil
	}
	err := d.dev.Close()
	d.dev = nil
	d.iface = nil
	d.out = nil
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	return err
}

// controlOut issues a vendor OUT request carrying data
func (d *Device) controlOut(req uint8, data []byte) error {
	if !d.IsOpen() {
		return ErrClosed
	}
	n, err := d.dev.Control(reqTypeOut, req, 0, 0, data)
	if err != nil {
		return fmt.Errorf("Control([req=0x%02X]): %w", req, err)
	}
	if n != len(data) {
		return fmt.Errorf("Control([req=0x%02X]): short write (%d of %d bytes)", req, n, len(data))
	}
	return nil
}

// controlIn issues a vendor IN request expecting size bytes in return
func (d *Device) controlIn(req uint8, size int) ([]byte, error) {
	if !d.IsOpen() {
		return nil, ErrClosed
	}
	buf := make([]byte, size)
	n, err := d.dev.Control(reqTypeIn, req, 0, 0, buf)
	if err != nil {
		return nil, fmt.Errorf("Control([req=0x%02X]): %w", req, err)
	}
	if n != size {
		return buf[:n], fmt.Errorf("Control([req=0x%02X]): short read (%d of %d bytes)", req, n, size)
	}
	return buf, nil
}

// Reset issues a device reset.  The bridge re-enumerates afterwards, so the
// handle must be closed and the device reopened.
func (d *Device) Reset() error {
	return d.controlOut(reqResetDevice, nil)
}

// SiliconVersion returns the read-only silicon version
func (d *Device) SiliconVersion() (SiliconVersion, error) {
	buf, err := d.controlIn(reqGetReadOnlyVer, 2)
	if err != nil {
		return SiliconVersion{}, err
	}
	return SiliconVersion{Maj: buf[0], Min: buf[1]}, nil
}

// USBConfig returns the USB configuration record
func (d *Device) USBConfig() (USBConfig, error) {
	buf, err := d.controlIn(reqGetUSBConfig, 9)
	if err != nil {
		return USBConfig{}, err
	}
	return parseUSBConfig(buf)
}

// ManufacturerDesc returns the manufacturer string descriptor
func (d *Device) ManufacturerDesc() (string, error) {
	if !d.IsOpen() {
		return "", ErrClosed
	}
	return d.dev.Manufacturer()
}

// ProductDesc returns the product string descriptor
func (d *Device) ProductDesc() (string, error) {
	if !d.IsOpen() {
		return "", ErrClosed
	}
	return d.dev.Product()
}

// SerialDesc returns the serial number string descriptor
func (d *Device) SerialDesc() (string, error) {
	if !d.IsOpen() {
		return "", ErrClosed
	}
	return d.dev.SerialNumber()
}

// SelectCS asserts the chip select of channel and releases all others
func (d *Device) SelectCS(channel uint8) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return d.controlOut(reqSetGPIOChipSelect, []byte{channel, csActiveOthersIdle})
}

// DisableCS releases the chip select of channel
func (d *Device) DisableCS(channel uint8) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return d.controlOut(reqSetGPIOChipSelect, []byte{channel, csIdle})
}

// ConfigureSPIMode writes the SPI word of channel
func (d *Device) ConfigureSPIMode(channel uint8, mode SPIMode) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return d.controlOut(reqSetSPIWord, []byte{channel, mode.word()})
}

// DisableSPIDelays clears the inter-byte, post-assert and pre-deassert delays
// of channel, and the chip select toggle between bytes
func (d *Device) DisableSPIDelays(channel uint8) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	/* payload:
	0 channel
	1 delay mask, 0 disables all of them
	2-3 inter-byte delay
	4-5 post-assert delay
	6-7 pre-deassert delay
	*/
	buf := make([]byte, 8)
	buf[0] = channel
	return d.controlOut(reqSetSPIDelay, buf)
}

// SPIWrite writes data on the SPI bus, on whichever channel is selected
func (d *Device) SPIWrite(data []byte) error {
	if !d.IsOpen() {
		return ErrClosed
	}
	hdr := encSPIWriteHeader(len(data))
	b := append(hdr[:], data...)
	n, err := d.out.Write(b)
	if err != nil {
		return fmt.Errorf("Write([ep=0x%02X]): %w", EPOut, err)
	}
	if n != len(b) {
		return fmt.Errorf("Write([ep=0x%02X]): short write (%d of %d bytes)", EPOut, n, len(b))
	}
	return nil
}

// SetGPIO drives pin to value
func (d *Device) SetGPIO(pin Pin, value bool) error {
	buf, err := encGPIOValues(pin, value)
	if err != nil {
		return err
	}
	return d.controlOut(reqSetGPIOValues, buf)
}

// GPIO reads the level of pin
func (d *Device) GPIO(pin Pin) (bool, error) {
	if _, err := pin.Mask(); err != nil {
		return false, err
	}
	buf, err := d.controlIn(reqGetGPIOValues, 2)
	if err != nil {
		return false, err
	}
	return decGPIOValue(buf, pin)
}
