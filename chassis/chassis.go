// Package chassis is the mecanum chassis module: speed control with auto stop,
// relative move actions, PWM outputs and telemetry subjects.
package chassis

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/telemetry"
	"github.com/temoto/rmlink/units"
)

const PwmChannels = 6

type Caller interface {
	Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error)
	Push(receiver protocol.Addr, p protocol.Proto) error
}

type Chassis struct {
	log     *log2.Log
	caller  Caller
	actions *action.Dispatcher
	sub     *telemetry.Subscriber

	mu       sync.Mutex
	autoStop *time.Timer
	autoGen  uint64
}

func New(log *log2.Log, c Caller, actions *action.Dispatcher, sub *telemetry.Subscriber) *Chassis {
	return &Chassis{log: log, caller: c, actions: actions, sub: sub}
}

// Stop cancels pending auto stop timer.
func (c *Chassis) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
}

func (c *Chassis) call(ctx context.Context, p protocol.Proto) error {
	_, err := c.caller.Call(ctx, protocol.AddrChassis, p)
	return errors.Annotatef(err, "chassis %T", p)
}

func (c *Chassis) SetWorkMode(ctx context.Context, mode byte) error {
	return c.call(ctx, &WorkMode{Mode: mode})
}

func (c *Chassis) StickOverlay(ctx context.Context, mode byte) error {
	return c.call(ctx, &StickOverlay{Mode: mode})
}

// DriveWheels sets rpm per wheel. Positive timeout arms auto stop, replacing previous one.
func (c *Chassis) DriveWheels(ctx context.Context, w1, w2, w3, w4 float64, timeout time.Duration) error {
	p := &WheelSpeed{
		W1: int16(units.WheelSpeed.ProtoInt(c.log, w1)),
		// left side motors are mounted mirrored
		W2: int16(units.WheelSpeed.ProtoInt(c.log, -w2)),
		W3: int16(units.WheelSpeed.ProtoInt(c.log, -w3)),
		W4: int16(units.WheelSpeed.ProtoInt(c.log, w4)),
	}
	if timeout > 0 {
		c.arm(timeout, "drive_wheels", func() error {
			return c.DriveWheels(context.Background(), 0, 0, 0, 0, 0)
		})
	}
	return c.call(ctx, p)
}

// DriveSpeed sets velocity m/s and deg/s, no ack. Positive timeout arms auto stop.
func (c *Chassis) DriveSpeed(x, y, z float64, timeout time.Duration) error {
	p := &SpeedMode{
		X: float32(units.ChassisSpeedX.Proto(c.log, x)),
		Y: float32(units.ChassisSpeedY.Proto(c.log, y)),
		Z: float32(units.ChassisSpeedZ.Proto(c.log, z)),
	}
	c.log.Debugf("chassis: drive speed x=%v y=%v z=%v", p.X, p.Y, p.Z)
	if timeout > 0 {
		c.arm(timeout, "drive_speed", func() error { return c.DriveSpeed(0, 0, 0, 0) })
	}
	return errors.Annotate(c.caller.Push(protocol.AddrChassis, p), "chassis drive speed")
}

func (c *Chassis) arm(d time.Duration, api string, stop func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoStop != nil {
		c.autoStop.Stop()
	}
	c.autoGen++
	gen := c.autoGen
	c.autoStop = time.AfterFunc(d, func() {
		c.mu.Lock()
		current := c.autoGen == gen
		if current {
			c.autoStop = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}
		c.log.Infof("chassis: %s timeout, auto stop", api)
		if err := stop(); err != nil {
			c.log.Errorf("chassis: auto stop err=%v", err)
		}
	})
}

// pwmValues builds channel mask from 1-based channel numbers. Zero value leaves channel unchanged.
func (c *Chassis) pwmValues(dst *pwm, values map[int]float64, checker *units.Checker) error {
	for ch, v := range values {
		if ch < 1 || ch > PwmChannels {
			return errors.NotValidf("pwm channel=%d", ch)
		}
		if v == 0 {
			continue
		}
		dst.Mask |= 1 << uint(ch-1)
		dst.Values[ch-1] = uint16(checker.ProtoInt(c.log, v))
	}
	return nil
}

// SetPwmPercent sets duty cycle 0-100 per channel 1-6.
func (c *Chassis) SetPwmPercent(ctx context.Context, values map[int]float64) error {
	p := &PwmPercent{}
	if err := c.pwmValues(&p.pwm, values, &units.PwmPercent); err != nil {
		return err
	}
	return c.call(ctx, p)
}

// SetPwmFreq sets frequency Hz per channel 1-6.
func (c *Chassis) SetPwmFreq(ctx context.Context, values map[int]float64) error {
	p := &PwmFreq{}
	if err := c.pwmValues(&p.pwm, values, &units.PwmFreq); err != nil {
		return err
	}
	return c.call(ctx, p)
}

// Move starts relative move, x y meters, z degrees.
func (c *Chassis) Move(ctx context.Context, x, y, z, speedXY, speedZ float64) (*action.Action, error) {
	cmd := NewMove(c.log, x, y, z, speedXY, speedZ)
	a, err := c.actions.Submit(ctx, cmd)
	return a, errors.Annotatef(err, "chassis %s", cmd)
}

func (c *Chassis) SubPosition(ctx context.Context, cs int, freq byte, cb func(Position)) error {
	return c.sub.Subscribe(ctx, PositionSubject(c.log, cs, freq, cb))
}

func (c *Chassis) SubAttitude(ctx context.Context, freq byte, cb func(Attitude)) error {
	return c.sub.Subscribe(ctx, AttitudeSubject(c.log, freq, cb))
}

func (c *Chassis) SubImu(ctx context.Context, freq byte, cb func(Imu)) error {
	return c.sub.Subscribe(ctx, ImuSubject(c.log, freq, cb))
}

func (c *Chassis) SubStatus(ctx context.Context, freq byte, cb func(Status)) error {
	return c.sub.Subscribe(ctx, StatusSubject(freq, cb))
}

func (c *Chassis) Unsub(ctx context.Context, name string) error {
	return c.sub.Unsubscribe(ctx, name)
}
