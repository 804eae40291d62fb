package servo

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Youri-program/radarzuyd/internal/i2c"
)

// PCA9685 register map, subset used for servo PWM.
const (
	regMode1    = 0x00
	regPrescale = 0xFE
	regLED0OnL  = 0x06

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80

	oscClockHz = 25_000_000
)

// PCA9685 drives servos on the NXP PCA9685 16-channel PWM chip
type PCA9685 struct {
	bus        *i2c.Bus
	dev        *i2c.Dev
	freqHz     int
	minPulseUS int
	maxPulseUS int
}

// OpenPCA9685 opens the I2C bus, binds the chip and programs the PWM
// frequency. The returned driver owns the bus handle.
func OpenPCA9685(cfg Config) (*PCA9685, error) {
	bus, err := i2c.Open(fmt.Sprintf("/dev/i2c-%d", cfg.I2CBus))
	if err != nil {
		return nil, err
	}

	dev, err := bus.Dev(cfg.Address)
	if err != nil {
		bus.Close()
		return nil, err
	}

	p := &PCA9685{
		bus:        bus,
		dev:        dev,
		freqHz:     cfg.FrequencyHz,
		minPulseUS: cfg.MinPulseUS,
		maxPulseUS: cfg.MaxPulseUS,
	}

	if err := p.setFrequency(cfg.FrequencyHz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to program pwm frequency: %w", err)
	}

	return p, nil
}

// setFrequency programs the prescaler. The chip only accepts prescale
// writes while in sleep mode.
func (p *PCA9685) setFrequency(freqHz int) error {
	prescale := byte(math.Round(float64(oscClockHz)/(4096*float64(freqHz))) - 1)

	oldMode, err := p.dev.ReadReg(regMode1)
	if err != nil {
		return err
	}

	if err := p.dev.WriteReg(regMode1, (oldMode&^mode1Restart)|mode1Sleep); err != nil {
		return err
	}
	if err := p.dev.WriteReg(regPrescale, prescale); err != nil {
		return err
	}
	if err := p.dev.WriteReg(regMode1, oldMode); err != nil {
		return err
	}

	// Oscillator needs ~500us to stabilize after leaving sleep.
	time.Sleep(time.Millisecond)

	return p.dev.WriteReg(regMode1, oldMode|mode1Restart|mode1AutoInc)
}

// WriteAngle implements Driver. The 16-bit duty cycle is scaled down to
// the chip's 12-bit counter space.
func (p *PCA9685) WriteAngle(channel int, angleDeg float64) error {
	duty := AngleToDuty(angleDeg, p.freqHz, p.minPulseUS, p.maxPulseUS)
	off := duty >> 4

	reg := byte(regLED0OnL + 4*channel)
	return p.dev.WriteReg(reg,
		0x00, 0x00,
		byte(off&0xFF), byte(off>>8),
	)
}

// Close puts the chip to sleep and releases the bus
func (p *PCA9685) Close() error {
	if err := p.dev.WriteReg(regMode1, mode1Sleep); err != nil {
		slog.Warn("failed to sleep pca9685", "error", err)
	}
	return p.bus.Close()
}

// AngleToDuty converts a servo angle to a 16-bit PWM duty cycle. The
// angle is clamped to the servo's physical 0-180 range and the duty to
// the 16-bit space.
func AngleToDuty(angleDeg float64, freqHz, minPulseUS, maxPulseUS int) uint16 {
	if angleDeg < 0 {
		angleDeg = 0
	}
	if angleDeg > 180 {
		angleDeg = 180
	}

	pulseUS := float64(minPulseUS) + (angleDeg/180.0)*float64(maxPulseUS-minPulseUS)
	duty := int(pulseUS / 1e6 * float64(freqHz) * 65535)

	if duty < 0 {
		duty = 0
	}
	if duty > 65535 {
		duty = 65535
	}
	return uint16(duty)
}
