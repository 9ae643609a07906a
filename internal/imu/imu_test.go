package imu

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"accelgraph/internal/sensor"
)

type fakeI2C struct {
	mu     sync.Mutex
	regs   map[byte][]byte
	writes []writeOp

	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) wrote(reg, val byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func newFakeICM() *fakeI2C {
	return &fakeI2C{regs: map[byte][]byte{
		regWhoAmI: {whoAmIVal},
		// ax=+1g, ay=0, az=-1g at 4g full-scale.
		regAccelXoutH: {0x20, 0x00, 0x00, 0x00, 0xE0, 0x00},
	}}
}

func newFakeAK() *fakeI2C {
	return &fakeI2C{regs: map[byte][]byte{
		akRegWIA2: {akWIA2Val},
		akRegST1:  {akST1DataReady},
		// hx=100, hy=-200, hz=300 LSB, TMPS, ST2.
		akRegHXL: {0x64, 0x00, 0x38, 0xFF, 0x2C, 0x01, 0x00, 0x00},
	}}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAccel_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	if _, err := newAccel(f, 100); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAccel_InitWritesBypassAndBank2(t *testing.T) {
	noSleep(t)
	f := newFakeICM()
	if _, err := newAccel(f, 100); err != nil {
		t.Fatalf("newAccel: %v", err)
	}
	for _, w := range []writeOp{
		{regPwrMgmt1, bitReset},
		{regPwrMgmt1, bitClkAuto},
		{regPwrMgmt2, gyroDisabled},
		{regIntPinCfg, bitBypassEn},
		{regBankSel, bank2 << 4},
		{regAccelSmplrt2, 1125/100 - 1},
		{regAccelConfig, fsAccel4g},
	} {
		if !f.wrote(w.reg, w.val) {
			t.Fatalf("missing write reg=0x%02X val=0x%02X", w.reg, w.val)
		}
	}
}

func TestAccel_ReadScalesToMetresPerSecondSquared(t *testing.T) {
	noSleep(t)
	a, err := newAccel(newFakeICM(), 100)
	if err != nil {
		t.Fatalf("newAccel: %v", err)
	}
	v, err := a.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !near(v[0], standardGravity) || v[1] != 0 || !near(v[2], -standardGravity) {
		t.Fatalf("accel=%v want [g 0 -g]", v)
	}
}

func TestMag_ReadScalesAndAligns(t *testing.T) {
	noSleep(t)
	f := newFakeAK()
	m, err := newMag(f)
	if err != nil {
		t.Fatalf("newMag: %v", err)
	}
	if !f.wrote(akRegCNTL2, akModeCont100) {
		t.Fatalf("continuous mode not selected")
	}
	v, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := [3]float64{15, 30, -45}
	for i := range want {
		if !near(v[i], want[i]) {
			t.Fatalf("mag=%v want %v", v, want)
		}
	}
}

func TestMag_NoDataAndOverflow(t *testing.T) {
	noSleep(t)
	f := newFakeAK()
	m, err := newMag(f)
	if err != nil {
		t.Fatalf("newMag: %v", err)
	}
	f.regs[akRegST1] = []byte{0}
	if _, err := m.Read(); !errors.Is(err, errNoData) {
		t.Fatalf("err=%v want %v", err, errNoData)
	}
	f.regs[akRegST1] = []byte{akST1DataReady}
	f.regs[akRegHXL][7] = akST2Overflow
	if _, err := m.Read(); err == nil {
		t.Fatalf("expected overflow error")
	}
}

type fakeBus struct {
	devs   map[uint16]*fakeI2C
	closed bool
}

func (b *fakeBus) Dev(addr uint16) regIO {
	if d, ok := b.devs[addr]; ok {
		return d
	}
	return &fakeI2C{readErrFor: map[byte]error{regWhoAmI: errors.New("nack"), akRegWIA2: errors.New("nack")}}
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

type recListener struct {
	mu     sync.Mutex
	counts map[sensor.Kind]int
	last   map[sensor.Kind]sensor.Sample
}

func newRecListener() *recListener {
	return &recListener{counts: map[sensor.Kind]int{}, last: map[sensor.Kind]sensor.Sample{}}
}

func (r *recListener) OnSensorChanged(s sensor.Sample) {
	r.mu.Lock()
	r.counts[s.Kind]++
	r.last[s.Kind] = s
	r.mu.Unlock()
}

func (r *recListener) OnAccuracyChanged(sensor.Kind, int) {}

func (r *recListener) get(k sensor.Kind) (int, sensor.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[k], r.last[k]
}

func TestFeed_EmitsBothSensors(t *testing.T) {
	noSleep(t)
	bus := &fakeBus{devs: map[uint16]*fakeI2C{icmAddrDefault: newFakeICM(), akAddr: newFakeAK()}}
	hub := sensor.NewHub()
	f := NewFeed(Config{AccelInterval: 2 * time.Millisecond, MagInterval: 2 * time.Millisecond}, hub)
	f.open = func(string) (devBus, error) { return bus, nil }

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !hub.HasSensor(sensor.Accelerometer) || !hub.HasSensor(sensor.MagneticField) {
		t.Fatalf("both sensors should be available")
	}
	l := newRecListener()
	for _, k := range []sensor.Kind{sensor.Accelerometer, sensor.MagneticField} {
		if err := hub.Register(l, k, sensor.RateFastest); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		na, _ := l.get(sensor.Accelerometer)
		nm, _ := l.get(sensor.MagneticField)
		if na > 0 && nm > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("accel=%d mag=%d samples", na, nm)
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, s := l.get(sensor.Accelerometer)
	if !near(s.Values[0], standardGravity) {
		t.Fatalf("accel sample=%v", s.Values)
	}

	f.Close()
	if !bus.closed {
		t.Fatalf("bus not closed")
	}
	if st := f.Stats(); !st.Magnetometer || st.AccelReads == 0 || st.MagReads == 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestFeed_NoMagnetometer(t *testing.T) {
	noSleep(t)
	bus := &fakeBus{devs: map[uint16]*fakeI2C{icmAddrDefault: newFakeICM()}}
	hub := sensor.NewHub()
	f := NewFeed(Config{}, hub)
	f.open = func(string) (devBus, error) { return bus, nil }
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Close()
	if !hub.HasSensor(sensor.Accelerometer) || hub.HasSensor(sensor.MagneticField) {
		t.Fatalf("only the accelerometer should be available")
	}
}

func TestFeed_NoIMU(t *testing.T) {
	noSleep(t)
	bus := &fakeBus{devs: map[uint16]*fakeI2C{}}
	hub := sensor.NewHub()
	f := NewFeed(Config{}, hub)
	f.open = func(string) (devBus, error) { return bus, nil }
	if err := f.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if hub.HasSensor(sensor.Accelerometer) {
		t.Fatalf("accelerometer should be unavailable")
	}
	if !bus.closed {
		t.Fatalf("bus not released")
	}
}
