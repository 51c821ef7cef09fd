package chassis

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
)

type sent struct {
	push bool
	p    protocol.Proto
}

type fakeCaller struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeCaller) Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{p: p})
	return p, nil
}

func (f *fakeCaller) Push(receiver protocol.Addr, p protocol.Proto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{push: true, p: p})
	return nil
}

func (f *fakeCaller) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func marshal(t testing.TB, p protocol.Proto) []byte {
	b, err := p.MarshalRequest()
	require.NoError(t, err)
	return b
}

func TestProtoEncode(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cases := []struct {
		name   string
		p      protocol.Proto
		expect string
	}{
		{"move", NewMove(log, 1, 0, 90, 0.5, 30).Request(1), "01 08 00 00 6400 0000 8403 0a 2c01"},
		{"move-clamp", NewMove(log, 9, -9, 0, 5, 1).Request(2), "02 08 00 00 f401 0cfe 0000 fa 6400"},
		{"wheels", &WheelSpeed{W1: 100, W2: -100, W3: -100, W4: 100}, "6400 9cff 9cff 6400"},
		{"speed", &SpeedMode{X: 1}, "0000803f 00000000 00000000"},
		{"work-mode", &WorkMode{Mode: 1}, "01"},
		{"pwm", &PwmPercent{pwm{Mask: 5, Values: [6]uint16{500, 0, 1000}}}, "05 f401 0000 e803 0000 0000 0000"},
		{"push", &PositionPush{ID: 3, Pct: 50, State: action.PushRunning, X: 10, Y: -1, Z: 0}, "03 32 00 0a00 ffff 0000"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b := marshal(t, c.p)
			assert.Equal(t, helpers.MustHex(c.expect), b)
			d, ok := protocol.Default.Lookup(c.p.Key())
			require.True(t, ok)
			p2 := d.New()
			require.NoError(t, p2.UnmarshalRequest(b))
			assert.Equal(t, b, marshal(t, p2))
		})
	}
}

func TestProtoShort(t *testing.T) {
	t.Parallel()
	for _, p := range []protocol.Proto{&WheelSpeed{}, &SpeedMode{}, &PwmFreq{}, &PositionMove{}, &PositionPush{}} {
		err := p.UnmarshalRequest([]byte{1})
		assert.True(t, errors.IsNotValid(err), "%T", p)
	}
	pm := &PositionMove{}
	require.NoError(t, pm.UnmarshalResponse([]byte{0, 1}))
	assert.Equal(t, byte(1), pm.Accept)
	require.NoError(t, pm.UnmarshalResponse([]byte{0x2c}))
	assert.Equal(t, byte(0x2c), pm.Retcode())
}

func TestPushAckModes(t *testing.T) {
	t.Parallel()
	for _, k := range []protocol.Key{KeySpeedMode, KeyPositionPush} {
		d, ok := protocol.Default.Lookup(k)
		require.True(t, ok)
		assert.Equal(t, protocol.AckNone, d.Ack, d.Name)
	}
	d, _ := protocol.Default.Lookup(KeyPositionMove)
	assert.Equal(t, protocol.AckFinish, d.Ack)
}

func TestMoveAccept(t *testing.T) {
	t.Parallel()
	m := NewMove(log2.NewTest(t, log2.LDebug), 0, 0, 0, DefaultMoveSpeedXY, DefaultMoveSpeedZ)
	assert.NoError(t, m.Accept(&PositionMove{}))
	assert.Equal(t, action.ErrRejected, errors.Cause(m.Accept(&PositionMove{Accept: 1})))

	m.Update(&PositionPush{X: 150, Y: -20, Z: 900})
	x, y, z := m.Position()
	assert.Equal(t, 1.5, x)
	assert.Equal(t, -0.2, y)
	assert.Equal(t, 90.0, z)
}

func TestDriveWheelsAutoStop(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{}
	c := New(log2.NewTest(t, log2.LDebug), fc, nil, nil)
	defer c.Stop()

	require.NoError(t, c.DriveWheels(context.Background(), 100, 100, 100, 100, 20*time.Millisecond))
	require.Eventually(t, func() bool { return len(fc.all()) == 2 }, time.Second, time.Millisecond)
	ss := fc.all()
	assert.Equal(t, &WheelSpeed{W1: 100, W2: -100, W3: -100, W4: 100}, ss[0].p)
	assert.Equal(t, &WheelSpeed{}, ss[1].p)
}

func TestDriveSpeedTimerReplaced(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{}
	c := New(log2.NewTest(t, log2.LDebug), fc, nil, nil)
	defer c.Stop()

	require.NoError(t, c.DriveSpeed(1, 0, 0, 30*time.Millisecond))
	require.NoError(t, c.DriveSpeed(9, 0, 0, 200*time.Millisecond))
	time.Sleep(80 * time.Millisecond)
	// first timer must not fire
	require.Len(t, fc.all(), 2)
	require.Eventually(t, func() bool { return len(fc.all()) == 3 }, time.Second, time.Millisecond)
	ss := fc.all()
	for _, s := range ss {
		assert.True(t, s.push)
	}
	assert.Equal(t, float32(3.5), ss[1].p.(*SpeedMode).X)
	assert.Equal(t, &SpeedMode{}, ss[2].p)
}

func TestStopCancelsAutoStop(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{}
	c := New(log2.NewTest(t, log2.LDebug), fc, nil, nil)
	require.NoError(t, c.DriveSpeed(1, 0, 0, 20*time.Millisecond))
	c.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, fc.all(), 1)
}

func TestPwm(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{}
	c := New(log2.NewTest(t, log2.LDebug), fc, nil, nil)
	require.NoError(t, c.SetPwmPercent(context.Background(), map[int]float64{1: 50, 3: 150, 6: 0}))
	p := fc.all()[0].p.(*PwmPercent)
	assert.Equal(t, byte(0x05), p.Mask)
	assert.Equal(t, [6]uint16{500, 0, 1000, 0, 0, 0}, p.Values)

	require.NoError(t, c.SetPwmFreq(context.Background(), map[int]float64{2: 60000}))
	f := fc.all()[1].p.(*PwmFreq)
	assert.Equal(t, byte(0x02), f.Mask)
	assert.Equal(t, uint16(50000), f.Values[1])

	assert.True(t, errors.IsNotValid(c.SetPwmFreq(context.Background(), map[int]float64{7: 1})))
}

func float32s(fs ...float32) []byte {
	b := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func TestPositionSubject(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	rel := PositionSubject(log, PositionFromCurrent, 5, nil)
	v, err := rel.Decode(float32s(1, 2, 30))
	require.NoError(t, err)
	assert.Equal(t, Position{}, v)
	v, err = rel.Decode(float32s(1.5, 2, 40))
	require.NoError(t, err)
	assert.Equal(t, Position{X: 0.5, Y: 0, Z: 1}, v)

	abs := PositionSubject(log, PositionFromStart, 5, nil)
	v, err = abs.Decode(float32s(1.5, -0.25, 40))
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1.5, Y: -0.25, Z: 4}, v)

	_, err = abs.Decode([]byte{1, 2})
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, SubjectPosition, abs.Name)
}

func TestOtherSubjects(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	v, err := AttitudeSubject(log, 5, nil).Decode(float32s(90, -10.5, 200))
	require.NoError(t, err)
	assert.Equal(t, Attitude{Yaw: 90, Pitch: -10.5, Roll: 180}, v)

	v, err = ImuSubject(log, 5, nil).Decode(float32s(0.5, 0, -1, 0.25, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Imu{AccX: 0.5, AccZ: -1, GyroX: 0.25}, v)

	v, err = StatusSubject(5, nil).Decode([]byte{0x81, 0x05})
	require.NoError(t, err)
	assert.Equal(t, Status{Static: true, ImpactY: true, ImpactZ: true, HillStatic: true}, v)
}
