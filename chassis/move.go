package chassis

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/units"
)

const (
	DefaultMoveSpeedXY = 0.5
	DefaultMoveSpeedZ  = 30
)

// MoveCommand is relative chassis move: meters and degrees.
type MoveCommand struct {
	X, Y, Z float64
	SpeedXY float64
	SpeedZ  float64

	log *log2.Log
	mu  sync.Mutex
	pos [3]float64
}

func NewMove(log *log2.Log, x, y, z, speedXY, speedZ float64) *MoveCommand {
	return &MoveCommand{X: x, Y: y, Z: z, SpeedXY: speedXY, SpeedZ: speedZ, log: log}
}

func (*MoveCommand) Target() protocol.Addr { return protocol.AddrChassis }
func (*MoveCommand) PushKey() protocol.Key { return KeyPositionPush }

func (m *MoveCommand) Request(id byte) protocol.Proto {
	return &PositionMove{
		ActionID:  id,
		Freq:      DefaultPushFreq,
		X:         int16(units.ChassisPosXSet.ProtoInt(m.log, m.X)),
		Y:         int16(units.ChassisPosYSet.ProtoInt(m.log, m.Y)),
		Z:         int16(units.ChassisPosZSet.ProtoInt(m.log, m.Z)),
		VelXYMax:  units.MoveSpeedXY(m.log, m.SpeedXY),
		AglOmgMax: units.MoveSpeedZ(m.log, m.SpeedZ),
	}
}

func (m *MoveCommand) Accept(resp protocol.Proto) error {
	pm, ok := resp.(*PositionMove)
	if !ok {
		return errors.NotValidf("move response=%T", resp)
	}
	if pm.Accept != 0 {
		return errors.Annotatef(action.ErrRejected, "move accept=%d", pm.Accept)
	}
	return nil
}

// Update keeps last reported position.
func (m *MoveCommand) Update(p action.Push) {
	pp, ok := p.(*PositionPush)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[0] = units.ChassisPosXPush.Val(m.log, float64(pp.X))
	m.pos[1] = units.ChassisPosYPush.Val(m.log, float64(pp.Y))
	m.pos[2] = units.ChassisPosZPush.Val(m.log, float64(pp.Z))
}

// Position last reported by progress push.
func (m *MoveCommand) Position() (x, y, z float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos[0], m.pos[1], m.pos[2]
}

func (m *MoveCommand) String() string {
	return fmt.Sprintf("move x=%v y=%v z=%v xy_speed=%v z_speed=%v", m.X, m.Y, m.Z, m.SpeedXY, m.SpeedZ)
}
