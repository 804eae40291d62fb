// Package i2c provides minimal access to Linux I2C character devices.
package i2c

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// i2cSlave is the ioctl request that binds a descriptor to a slave address.
const i2cSlave = 0x0703

// Bus is an open I2C bus device (/dev/i2c-N)
type Bus struct {
	f *os.File
}

// Open opens the I2C bus character device at the given path
func Open(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %s: %w", path, err)
	}
	return &Bus{f: f}, nil
}

// Dev binds the bus to the device at the given slave address
func (b *Bus) Dev(addr int) (*Dev, error) {
	if err := unix.IoctlSetInt(int(b.f.Fd()), i2cSlave, addr); err != nil {
		return nil, fmt.Errorf("failed to select i2c device 0x%02x: %w", addr, err)
	}
	return &Dev{bus: b, addr: addr}, nil
}

// Close releases the bus device
func (b *Bus) Close() error {
	return b.f.Close()
}

// Dev is a single device on an I2C bus
type Dev struct {
	bus  *Bus
	addr int
}

// Addr returns the device's slave address
func (d *Dev) Addr() int {
	return d.addr
}

// WriteReg writes data bytes to a device register
func (d *Dev) WriteReg(reg byte, data ...byte) error {
	buf := append([]byte{reg}, data...)
	if _, err := d.bus.f.Write(buf); err != nil {
		return fmt.Errorf("i2c write to reg 0x%02x failed: %w", reg, err)
	}
	return nil
}

// ReadReg reads a single byte from a device register
func (d *Dev) ReadReg(reg byte) (byte, error) {
	if _, err := d.bus.f.Write([]byte{reg}); err != nil {
		return 0, fmt.Errorf("i2c register select 0x%02x failed: %w", reg, err)
	}
	buf := make([]byte, 1)
	if _, err := d.bus.f.Read(buf); err != nil {
		return 0, fmt.Errorf("i2c read from reg 0x%02x failed: %w", reg, err)
	}
	return buf[0], nil
}
