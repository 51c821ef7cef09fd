package protocol

import (
	"encoding/binary"
)

var (
	KeySubAddNode   = MakeKey(0x48, 0x01)
	KeySubNodeReset = MakeKey(0x48, 0x02)
	KeySubAddMsg    = MakeKey(0x48, 0x03)
	KeySubDelMsg    = MakeKey(0x48, 0x04)
	KeyPushPeriod   = MakeKey(0x48, 0x08)
)

const SubVersion uint32 = 0x03000000

type SubNodeReset struct {
	Node Addr
	Reply
}

func (*SubNodeReset) Key() Key                          { return KeySubNodeReset }
func (p *SubNodeReset) MarshalRequest() ([]byte, error) { return []byte{byte(p.Node)}, nil }
func (p *SubNodeReset) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Node = Addr(b[0])
	return nil
}

// SubAddNode response code 0x50 (already added) counts as success.
type SubAddNode struct {
	Node    Addr
	Version uint32

	RetCode byte
	PubNode Addr
}

func (*SubAddNode) Key() Key { return KeySubAddNode }
func (p *SubAddNode) Retcode() byte {
	if p.RetCode == RetSubNodeExists {
		return RetOK
	}
	return p.RetCode
}
func (p *SubAddNode) MarshalRequest() ([]byte, error) {
	b := make([]byte, 5)
	b[0] = byte(p.Node)
	binary.LittleEndian.PutUint32(b[1:], p.Version)
	return b, nil
}
func (p *SubAddNode) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 5); err != nil {
		return err
	}
	p.Node = Addr(b[0])
	p.Version = binary.LittleEndian.Uint32(b[1:])
	return nil
}
func (p *SubAddNode) MarshalResponse() ([]byte, error) {
	return []byte{p.RetCode, byte(p.PubNode)}, nil
}
func (p *SubAddNode) UnmarshalResponse(b []byte) error {
	if err := NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if len(b) >= 2 {
		p.PubNode = Addr(b[1])
	}
	return nil
}

// SubAddMsg asks device to push one subject periodically under local MsgID.
type SubAddMsg struct {
	Node  Addr
	Freq  byte
	MsgID byte
	UID   uint64
	Reply
}

func (*SubAddMsg) Key() Key { return KeySubAddMsg }
func (p *SubAddMsg) MarshalRequest() ([]byte, error) {
	b := make([]byte, 12)
	b[0] = byte(p.Node)
	b[1] = p.Freq
	b[2] = 1 // subject count
	b[3] = p.MsgID
	binary.LittleEndian.PutUint64(b[4:], p.UID)
	return b, nil
}
func (p *SubAddMsg) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 12); err != nil {
		return err
	}
	p.Node, p.Freq, p.MsgID = Addr(b[0]), b[1], b[3]
	p.UID = binary.LittleEndian.Uint64(b[4:])
	return nil
}

type SubDelMsg struct {
	MsgID byte
	Node  Addr
	Reply
}

func (*SubDelMsg) Key() Key                          { return KeySubDelMsg }
func (p *SubDelMsg) MarshalRequest() ([]byte, error) { return []byte{p.MsgID, byte(p.Node)}, nil }
func (p *SubDelMsg) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 2); err != nil {
		return err
	}
	p.MsgID, p.Node = b[0], Addr(b[1])
	return nil
}

// PushPeriod is device push of subscribed data.
type PushPeriod struct {
	SubMode byte
	MsgID   byte
	Data    []byte
	NoResponse
}

func (*PushPeriod) Key() Key { return KeyPushPeriod }
func (p *PushPeriod) MarshalRequest() ([]byte, error) {
	return append([]byte{p.SubMode, p.MsgID}, p.Data...), nil
}
func (p *PushPeriod) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "push", b, 2); err != nil {
		return err
	}
	p.SubMode, p.MsgID = b[0], b[1]
	p.Data = b[2:]
	return nil
}

func RegisterSub(r *Registry) {
	r.MustRegister(
		Descriptor{Key: KeySubAddNode, Name: "SubAddNode", Ack: AckFinish, New: func() Proto { return &SubAddNode{} }},
		Descriptor{Key: KeySubNodeReset, Name: "SubNodeReset", Ack: AckFinish, New: func() Proto { return &SubNodeReset{} }},
		Descriptor{Key: KeySubAddMsg, Name: "SubAddMsg", Ack: AckFinish, New: func() Proto { return &SubAddMsg{} }},
		Descriptor{Key: KeySubDelMsg, Name: "SubDelMsg", Ack: AckFinish, New: func() Proto { return &SubDelMsg{} }},
		Descriptor{Key: KeyPushPeriod, Name: "PushPeriod", Ack: AckNone, New: func() Proto { return &PushPeriod{} }},
	)
}
