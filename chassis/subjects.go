package chassis

import (
	"github.com/juju/errors"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/telemetry"
	"github.com/temoto/rmlink/units"
)

const (
	SubjectPosition = "position"
	SubjectAttitude = "attitude"
	SubjectImu      = "imu"
	SubjectStatus   = "sa_status"
)

// Coordinate systems of position subject.
const (
	// relative to first sample after subscribe
	PositionFromCurrent = 0
	// relative to power on place
	PositionFromStart = 1
)

type Position struct {
	X, Y, Z float64
}

type Attitude struct {
	Yaw, Pitch, Roll float64
}

type Imu struct {
	AccX, AccY, AccZ    float64
	GyroX, GyroY, GyroZ float64
}

type Status struct {
	Static     bool
	UpHill     bool
	DownHill   bool
	OnSlope    bool
	PickUp     bool
	Slip       bool
	ImpactX    bool
	ImpactY    bool
	ImpactZ    bool
	RollOver   bool
	HillStatic bool
}

func floats(data []byte, n int) ([]float64, error) {
	if len(data) < n*4 {
		return nil, errors.NotValidf("subject data length=%d < %d", len(data), n*4)
	}
	fs := make([]float64, n)
	for i := range fs {
		fs[i] = float64(float32At(data, i))
	}
	return fs, nil
}

func PositionSubject(log *log2.Log, cs int, freq byte, cb func(Position)) *telemetry.Subject {
	first := true
	var off [3]float64
	return &telemetry.Subject{
		Name: SubjectPosition,
		UID:  telemetry.UIDPosition,
		Freq: freq,
		Decode: func(data []byte) (interface{}, error) {
			fs, err := floats(data, 3)
			if err != nil {
				return nil, err
			}
			if cs == PositionFromCurrent {
				if first {
					copy(off[:], fs)
					first = false
				}
				for i := range fs {
					fs[i] -= off[i]
				}
			}
			return Position{
				X: units.ChassisPosXSub.Val(log, fs[0]),
				Y: units.ChassisPosYSub.Val(log, fs[1]),
				Z: units.ChassisPosZSub.Val(log, fs[2]),
			}, nil
		},
		Callback: func(v interface{}) { cb(v.(Position)) },
	}
}

func AttitudeSubject(log *log2.Log, freq byte, cb func(Attitude)) *telemetry.Subject {
	return &telemetry.Subject{
		Name: SubjectAttitude,
		UID:  telemetry.UIDAttitude,
		Freq: freq,
		Decode: func(data []byte) (interface{}, error) {
			fs, err := floats(data, 3)
			if err != nil {
				return nil, err
			}
			return Attitude{
				Yaw:   units.ChassisYaw.Val(log, fs[0]),
				Pitch: units.ChassisPitch.Val(log, fs[1]),
				Roll:  units.ChassisRoll.Val(log, fs[2]),
			}, nil
		},
		Callback: func(v interface{}) { cb(v.(Attitude)) },
	}
}

func ImuSubject(log *log2.Log, freq byte, cb func(Imu)) *telemetry.Subject {
	return &telemetry.Subject{
		Name: SubjectImu,
		UID:  telemetry.UIDImu,
		Freq: freq,
		Decode: func(data []byte) (interface{}, error) {
			fs, err := floats(data, 6)
			if err != nil {
				return nil, err
			}
			return Imu{
				AccX:  units.ChassisAcc.Val(log, fs[0]),
				AccY:  units.ChassisAcc.Val(log, fs[1]),
				AccZ:  units.ChassisAcc.Val(log, fs[2]),
				GyroX: units.ChassisGyro.Val(log, fs[3]),
				GyroY: units.ChassisGyro.Val(log, fs[4]),
				GyroZ: units.ChassisGyro.Val(log, fs[5]),
			}, nil
		},
		Callback: func(v interface{}) { cb(v.(Imu)) },
	}
}

func StatusSubject(freq byte, cb func(Status)) *telemetry.Subject {
	return &telemetry.Subject{
		Name: SubjectStatus,
		UID:  telemetry.UIDSaStatus,
		Freq: freq,
		Decode: func(data []byte) (interface{}, error) {
			if len(data) < 2 {
				return nil, errors.NotValidf("status data length=%d < 2", len(data))
			}
			bit := func(i uint) bool { return data[i/8]&(1<<(i%8)) != 0 }
			return Status{
				Static:     bit(0),
				UpHill:     bit(1),
				DownHill:   bit(2),
				OnSlope:    bit(3),
				PickUp:     bit(4),
				Slip:       bit(5),
				ImpactX:    bit(6),
				ImpactY:    bit(7),
				ImpactZ:    bit(8),
				RollOver:   bit(9),
				HillStatic: bit(10),
			}, nil
		},
		Callback: func(v interface{}) { cb(v.(Status)) },
	}
}
