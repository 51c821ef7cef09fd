package chassis

import (
	"encoding/binary"
	"math"

	"github.com/temoto/rmlink/protocol"
)

var (
	KeyWorkMode     = protocol.MakeKey(0x3f, 0x19)
	KeyWheelSpeed   = protocol.MakeKey(0x3f, 0x20)
	KeySpeedMode    = protocol.MakeKey(0x3f, 0x21)
	KeyPositionMove = protocol.MakeKey(0x3f, 0x25)
	KeyStickOverlay = protocol.MakeKey(0x3f, 0x28)
	KeyPositionPush = protocol.MakeKey(0x3f, 0x2a)
	KeyPwmFreq      = protocol.MakeKey(0x3f, 0x2b)
	KeyPwmPercent   = protocol.MakeKey(0x3f, 0x3c)
)

type WorkMode struct {
	Mode byte
	protocol.Reply
}

func (*WorkMode) Key() protocol.Key                 { return KeyWorkMode }
func (p *WorkMode) MarshalRequest() ([]byte, error) { return []byte{p.Mode}, nil }
func (p *WorkMode) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Mode = b[0]
	return nil
}

type StickOverlay struct {
	Mode byte
	protocol.Reply
}

func (*StickOverlay) Key() protocol.Key                 { return KeyStickOverlay }
func (p *StickOverlay) MarshalRequest() ([]byte, error) { return []byte{p.Mode}, nil }
func (p *StickOverlay) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Mode = b[0]
	return nil
}

// WheelSpeed is rpm per wheel, w1 front right then counter clockwise.
type WheelSpeed struct {
	W1, W2, W3, W4 int16
	protocol.Reply
}

func (*WheelSpeed) Key() protocol.Key { return KeyWheelSpeed }
func (p *WheelSpeed) MarshalRequest() ([]byte, error) {
	b := make([]byte, 8)
	for i, w := range [4]int16{p.W1, p.W2, p.W3, p.W4} {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(w))
	}
	return b, nil
}
func (p *WheelSpeed) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 8); err != nil {
		return err
	}
	p.W1 = int16(binary.LittleEndian.Uint16(b[0:]))
	p.W2 = int16(binary.LittleEndian.Uint16(b[2:]))
	p.W3 = int16(binary.LittleEndian.Uint16(b[4:]))
	p.W4 = int16(binary.LittleEndian.Uint16(b[6:]))
	return nil
}

// SpeedMode is push type, device does not ack.
type SpeedMode struct {
	X, Y, Z float32
	protocol.NoResponse
}

func (*SpeedMode) Key() protocol.Key { return KeySpeedMode }
func (p *SpeedMode) MarshalRequest() ([]byte, error) {
	b := make([]byte, 12)
	putFloats(b, p.X, p.Y, p.Z)
	return b, nil
}
func (p *SpeedMode) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 12); err != nil {
		return err
	}
	p.X, p.Y, p.Z = float32At(b, 0), float32At(b, 1), float32At(b, 2)
	return nil
}

// pwm is shared payload of PwmPercent and PwmFreq: channel mask, then 6 values.
type pwm struct {
	Mask   byte
	Values [6]uint16
	protocol.Reply
}

func (p *pwm) MarshalRequest() ([]byte, error) {
	b := make([]byte, 13)
	b[0] = p.Mask
	for i, v := range p.Values {
		binary.LittleEndian.PutUint16(b[1+i*2:], v)
	}
	return b, nil
}
func (p *pwm) unmarshal(k protocol.Key, b []byte) error {
	if err := protocol.NeedLen(k, "request", b, 13); err != nil {
		return err
	}
	p.Mask = b[0]
	for i := range p.Values {
		p.Values[i] = binary.LittleEndian.Uint16(b[1+i*2:])
	}
	return nil
}

type PwmPercent struct{ pwm }

func (*PwmPercent) Key() protocol.Key                 { return KeyPwmPercent }
func (p *PwmPercent) UnmarshalRequest(b []byte) error { return p.unmarshal(p.Key(), b) }

type PwmFreq struct{ pwm }

func (*PwmFreq) Key() protocol.Key                 { return KeyPwmFreq }
func (p *PwmFreq) UnmarshalRequest(b []byte) error { return p.unmarshal(p.Key(), b) }

// PositionMove starts relative move action. X,Y are cm, Z is 0.1 degree.
type PositionMove struct {
	ActionID   byte
	ActionCtrl byte
	Freq       byte
	CtrlMode   byte
	AxisMode   byte
	X, Y, Z    int16
	VelXYMax   byte
	AglOmgMax  int16

	RetCode byte
	Accept  byte
}

const (
	DefaultPushFreq  = 2
	DefaultAglOmgMax = 300
)

func (*PositionMove) Key() protocol.Key { return KeyPositionMove }
func (p *PositionMove) Retcode() byte   { return p.RetCode }
func (p *PositionMove) MarshalRequest() ([]byte, error) {
	b := make([]byte, 13)
	b[0] = p.ActionID
	b[1] = p.ActionCtrl | p.Freq<<2
	b[2] = p.CtrlMode
	b[3] = p.AxisMode
	binary.LittleEndian.PutUint16(b[4:], uint16(p.X))
	binary.LittleEndian.PutUint16(b[6:], uint16(p.Y))
	binary.LittleEndian.PutUint16(b[8:], uint16(p.Z))
	b[10] = p.VelXYMax
	binary.LittleEndian.PutUint16(b[11:], uint16(p.AglOmgMax))
	return b, nil
}
func (p *PositionMove) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 13); err != nil {
		return err
	}
	p.ActionID = b[0]
	p.ActionCtrl, p.Freq = b[1]&0x03, b[1]>>2
	p.CtrlMode, p.AxisMode = b[2], b[3]
	p.X = int16(binary.LittleEndian.Uint16(b[4:]))
	p.Y = int16(binary.LittleEndian.Uint16(b[6:]))
	p.Z = int16(binary.LittleEndian.Uint16(b[8:]))
	p.VelXYMax = b[10]
	p.AglOmgMax = int16(binary.LittleEndian.Uint16(b[11:]))
	return nil
}
func (p *PositionMove) MarshalResponse() ([]byte, error) {
	return []byte{p.RetCode, p.Accept}, nil
}
func (p *PositionMove) UnmarshalResponse(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if p.RetCode != protocol.RetOK {
		return nil
	}
	if err := protocol.NeedLen(p.Key(), "response", b, 2); err != nil {
		return err
	}
	p.Accept = b[1]
	return nil
}

// PositionPush is move progress, both directions share layout.
type PositionPush struct {
	ID      byte
	Pct     byte
	State   byte
	X, Y, Z int16
}

func (*PositionPush) Key() protocol.Key   { return KeyPositionPush }
func (p *PositionPush) ActionID() byte    { return p.ID }
func (p *PositionPush) Percent() uint8    { return p.Pct }
func (p *PositionPush) ActionState() byte { return p.State }
func (p *PositionPush) MarshalRequest() ([]byte, error) {
	b := make([]byte, 9)
	b[0], b[1], b[2] = p.ID, p.Pct, p.State
	binary.LittleEndian.PutUint16(b[3:], uint16(p.X))
	binary.LittleEndian.PutUint16(b[5:], uint16(p.Y))
	binary.LittleEndian.PutUint16(b[7:], uint16(p.Z))
	return b, nil
}
func (p *PositionPush) UnmarshalRequest(b []byte) error {
	if err := protocol.NeedLen(p.Key(), "request", b, 9); err != nil {
		return err
	}
	p.ID, p.Pct, p.State = b[0], b[1], b[2]
	p.X = int16(binary.LittleEndian.Uint16(b[3:]))
	p.Y = int16(binary.LittleEndian.Uint16(b[5:]))
	p.Z = int16(binary.LittleEndian.Uint16(b[7:]))
	return nil
}
func (p *PositionPush) MarshalResponse() ([]byte, error) { return p.MarshalRequest() }
func (p *PositionPush) UnmarshalResponse(b []byte) error { return p.UnmarshalRequest(b) }

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

// float32At reads i-th little endian float32.
func float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func Register(r *protocol.Registry) {
	r.MustRegister(
		protocol.Descriptor{Key: KeyWorkMode, Name: "ChassisWorkMode", Ack: protocol.AckFinish, New: func() protocol.Proto { return &WorkMode{} }},
		protocol.Descriptor{Key: KeyStickOverlay, Name: "ChassisStickOverlay", Ack: protocol.AckFinish, New: func() protocol.Proto { return &StickOverlay{} }},
		protocol.Descriptor{Key: KeyWheelSpeed, Name: "ChassisWheelSpeed", Ack: protocol.AckFinish, New: func() protocol.Proto { return &WheelSpeed{} }},
		protocol.Descriptor{Key: KeySpeedMode, Name: "ChassisSpeedMode", Ack: protocol.AckNone, New: func() protocol.Proto { return &SpeedMode{} }},
		protocol.Descriptor{Key: KeyPwmPercent, Name: "ChassisPwmPercent", Ack: protocol.AckFinish, New: func() protocol.Proto { return &PwmPercent{} }},
		protocol.Descriptor{Key: KeyPwmFreq, Name: "ChassisPwmFreq", Ack: protocol.AckFinish, New: func() protocol.Proto { return &PwmFreq{} }},
		protocol.Descriptor{Key: KeyPositionMove, Name: "ChassisPositionMove", Ack: protocol.AckFinish, New: func() protocol.Proto { return &PositionMove{} }},
		protocol.Descriptor{Key: KeyPositionPush, Name: "ChassisPositionPush", Ack: protocol.AckNone, New: func() protocol.Proto { return &PositionPush{} }},
	)
}

func init() { Register(protocol.Default) }
