// Package units converts engineering values to wire integers and back.
package units

import (
	"math"

	"github.com/temoto/rmlink/log2"
)

// Checker clamps to [Min, Max] when Bounded, then scales and rounds to Decimal digits.
type Checker struct {
	Name    string
	Min     float64
	Max     float64
	Bounded bool
	Scale   float64 // 0 means 1
	Decimal int
}

func (c *Checker) scale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

// Check clamps v, logging when it does.
func (c *Checker) Check(log *log2.Log, v float64) float64 {
	if !c.Bounded {
		return v
	}
	if v > c.Max {
		log.Infof("%s: over limit %v, set to %v", c.Name, v, c.Max)
		return c.Max
	}
	if v < c.Min {
		log.Infof("%s: below limit %v, set to %v", c.Name, v, c.Min)
		return c.Min
	}
	return v
}

// Proto is value to wire.
func (c *Checker) Proto(log *log2.Log, v float64) float64 {
	return Round(c.Check(log, v)*c.scale(), c.Decimal)
}

// Val is wire to value.
func (c *Checker) Val(log *log2.Log, w float64) float64 {
	return c.Check(log, Round(w/c.scale(), c.Decimal))
}

// ProtoInt for integer wire fields.
func (c *Checker) ProtoInt(log *log2.Log, v float64) int {
	return int(math.Round(c.Proto(log, v)))
}

// Round half away from zero to n decimal digits.
func Round(v float64, n int) float64 {
	if n <= 0 {
		return math.Round(v)
	}
	p := math.Pow(10, float64(n))
	return math.Round(v*p) / p
}

// Chassis limits.
var (
	WheelSpeed = Checker{Name: "wheel speed", Min: -1000, Max: 1000, Bounded: true}

	ChassisSpeedX = Checker{Name: "chassis spd x", Min: -3.5, Max: 3.5, Bounded: true, Decimal: 2}
	ChassisSpeedY = Checker{Name: "chassis spd y", Min: -3.5, Max: 3.5, Bounded: true, Decimal: 2}
	ChassisSpeedZ = Checker{Name: "chassis spd z", Min: -600, Max: 600, Bounded: true}

	// Decimal matches Scale so Val keeps the precision Proto sent.
	ChassisPosXSet = Checker{Name: "chassis pos x set", Min: -5, Max: 5, Bounded: true, Scale: 100, Decimal: 2}
	ChassisPosYSet = Checker{Name: "chassis pos y set", Min: -5, Max: 5, Bounded: true, Scale: 100, Decimal: 2}
	ChassisPosZSet = Checker{Name: "chassis pos z set", Min: -1800, Max: 1800, Bounded: true, Scale: 10, Decimal: 1}

	// move progress report, same scale as set but keeps centimeters
	ChassisPosXPush = Checker{Name: "chassis pos x push", Scale: 100, Decimal: 2}
	ChassisPosYPush = Checker{Name: "chassis pos y push", Scale: 100, Decimal: 2}
	ChassisPosZPush = Checker{Name: "chassis pos z push", Scale: 10, Decimal: 1}

	ChassisPosXSub = Checker{Name: "chassis pos x sub", Decimal: 5}
	ChassisPosYSub = Checker{Name: "chassis pos y sub", Decimal: 5}
	ChassisPosZSub = Checker{Name: "chassis pos z sub", Decimal: 2, Scale: 10}

	ChassisPitch = Checker{Name: "chassis pitch", Min: -180, Max: 180, Bounded: true, Decimal: 2}
	ChassisYaw   = Checker{Name: "chassis yaw", Min: -180, Max: 180, Bounded: true, Decimal: 2}
	ChassisRoll  = Checker{Name: "chassis roll", Min: -180, Max: 180, Bounded: true, Decimal: 2}

	ChassisAcc  = Checker{Name: "chassis acc", Decimal: 5}
	ChassisGyro = Checker{Name: "chassis gyro", Decimal: 5}

	PwmPercent = Checker{Name: "pwm percent", Min: 0, Max: 100, Bounded: true, Scale: 10}
	PwmFreq    = Checker{Name: "pwm freq", Min: 0, Max: 50000, Bounded: true}
)

// Move speed encodings, limits are fixed by the firmware.
const (
	MoveSpeedXYMin = 0.5
	MoveSpeedXYMax = 2.0
	MoveSpeedZMin  = 10
	MoveSpeedZMax  = 540
)

func MoveSpeedXY(log *log2.Log, v float64) byte {
	c := Checker{Name: "spd_xy", Min: MoveSpeedXYMin, Max: MoveSpeedXYMax, Bounded: true}
	return byte(int(160*c.Check(log, v) - 70))
}

func MoveSpeedZ(log *log2.Log, v float64) int16 {
	c := Checker{Name: "spd_z", Min: MoveSpeedZMin, Max: MoveSpeedZMax, Bounded: true}
	return int16(c.Check(log, v) * 10)
}
