package imu

import (
	"fmt"
	"time"
)

var sleep = time.Sleep

// Standard gravity, used to turn the accelerometer's g units into m/s^2.
const standardGravity = 9.80665

// ICM-20948 registers. WHO_AM_I at 0x00 reads 0xEA.
const (
	icmAddrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	regPwrMgmt2   = 0x07
	regIntPinCfg  = 0x0F
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D

	bitReset     = 0x80
	bitClkAuto   = 0x01
	bitBypassEn  = 0x02
	gyroDisabled = 0x07

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsAccel4g = 0x02
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Accel drives the accelerometer half of an ICM-20948. The gyro is powered
// down and the auxiliary I2C pins are put in bypass so the on-chip
// magnetometer shows up on the host bus.
type Accel struct {
	dev regIO

	curBank byte
	scale   float64
}

func newAccel(dev regIO, rateHz int) (*Accel, error) {
	if dev == nil {
		return nil, fmt.Errorf("imu: accel dev is nil")
	}
	a := &Accel{dev: dev, curBank: 0xFF}

	who, err := a.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("imu: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("imu: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := a.init(rateHz); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Accel) init(rateHz int) error {
	if err := a.setBank(0); err != nil {
		return err
	}
	_ = a.dev.WriteReg(regIntEnable, 0x00)

	if err := a.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("imu: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset leaves the bank register at 0.
	a.curBank = 0

	if err := a.dev.WriteReg(regPwrMgmt1, bitClkAuto); err != nil {
		return fmt.Errorf("imu: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := a.dev.WriteReg(regPwrMgmt2, gyroDisabled); err != nil {
		return fmt.Errorf("imu: gyro power down failed: %w", err)
	}

	// Host owns the aux bus: no internal I2C master, bypass on.
	if err := a.dev.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("imu: user ctrl failed: %w", err)
	}
	if err := a.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("imu: bypass enable failed: %w", err)
	}

	if err := a.setBank(bank2); err != nil {
		return err
	}
	// Accel base rate is 1125 Hz; rate = 1125/(div+1).
	if rateHz <= 0 || rateHz > 1125 {
		rateHz = 100
	}
	div := 1125/rateHz - 1
	_ = a.dev.WriteReg(regAccelSmplrt2, byte(div))
	if err := a.dev.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("imu: accel config failed: %w", err)
	}
	if err := a.setBank(0); err != nil {
		return err
	}

	a.scale = 4.0 / 32768.0 * standardGravity
	return nil
}

func (a *Accel) setBank(bank byte) error {
	if a.curBank == bank {
		return nil
	}
	if err := a.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("imu: set bank %d failed: %w", bank, err)
	}
	a.curBank = bank
	return nil
}

// Read returns the acceleration in m/s^2 in the chip's axes.
func (a *Accel) Read() ([3]float64, error) {
	if a == nil {
		return [3]float64{}, fmt.Errorf("imu: accel is nil")
	}
	if err := a.setBank(0); err != nil {
		return [3]float64{}, err
	}
	var buf [6]byte
	if err := a.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return [3]float64{}, fmt.Errorf("imu: read accel failed: %w", err)
	}
	var out [3]float64
	for i := range out {
		raw := int16(buf[2*i])<<8 | int16(buf[2*i+1])
		out[i] = float64(raw) * a.scale
	}
	return out, nil
}
