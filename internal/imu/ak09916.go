package imu

import (
	"errors"
	"fmt"
	"time"
)

// AK09916 magnetometer inside the ICM-20948, reachable at 0x0C once bypass is
// enabled. Data registers are little-endian; 0.15 uT per LSB.
const (
	akAddr = 0x0C

	akRegWIA2  = 0x01
	akWIA2Val  = 0x09
	akRegST1   = 0x10
	akRegHXL   = 0x11
	akRegCNTL2 = 0x31
	akRegCNTL3 = 0x32

	akST1DataReady = 0x01
	akST2Overflow  = 0x08
	akModeCont100  = 0x08
	akSoftReset    = 0x01

	akScale = 0.15
)

// errNoData means no new measurement was ready.
var errNoData = errors.New("imu: magnetometer has no new data")

type Mag struct {
	dev regIO
}

func newMag(dev regIO) (*Mag, error) {
	if dev == nil {
		return nil, fmt.Errorf("imu: mag dev is nil")
	}
	wia, err := dev.ReadRegU8(akRegWIA2)
	if err != nil {
		return nil, fmt.Errorf("imu: mag whoami read failed: %w", err)
	}
	if wia != akWIA2Val {
		return nil, fmt.Errorf("imu: mag whoami=0x%02X want 0x%02X", wia, akWIA2Val)
	}
	if err := dev.WriteReg(akRegCNTL3, akSoftReset); err != nil {
		return nil, fmt.Errorf("imu: mag reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := dev.WriteReg(akRegCNTL2, akModeCont100); err != nil {
		return nil, fmt.Errorf("imu: mag mode failed: %w", err)
	}
	return &Mag{dev: dev}, nil
}

// Read returns the field in uT, rotated into the accelerometer's axes.
// It returns errNoData when the chip has nothing new.
func (m *Mag) Read() ([3]float64, error) {
	if m == nil {
		return [3]float64{}, fmt.Errorf("imu: mag is nil")
	}
	st1, err := m.dev.ReadRegU8(akRegST1)
	if err != nil {
		return [3]float64{}, fmt.Errorf("imu: read mag status failed: %w", err)
	}
	if st1&akST1DataReady == 0 {
		return [3]float64{}, errNoData
	}
	// HXL..ST2; reading ST2 releases the data registers.
	var buf [8]byte
	if err := m.dev.ReadReg(akRegHXL, buf[:]); err != nil {
		return [3]float64{}, fmt.Errorf("imu: read mag failed: %w", err)
	}
	if buf[7]&akST2Overflow != 0 {
		return [3]float64{}, fmt.Errorf("imu: magnetic sensor overflow")
	}
	var raw [3]float64
	for i := range raw {
		raw[i] = float64(int16(buf[2*i+1])<<8|int16(buf[2*i])) * akScale
	}
	// The AK09916 has Y and Z flipped relative to the accelerometer.
	return [3]float64{raw[0], -raw[1], -raw[2]}, nil
}
