package protocol

import (
	"encoding/binary"
	"fmt"
)

var (
	KeyGetVersion        = MakeKey(0x00, 0x01)
	KeyGetProductVersion = MakeKey(0x00, 0x4f)
	KeyGetSn             = MakeKey(0x00, 0x51)
)

// GetVersion response: retcode, aa bb cc dd, padded to 30 bytes.
type GetVersion struct {
	Empty
	RetCode        byte
	AA, BB, CC, DD byte
}

func (*GetVersion) Key() Key        { return KeyGetVersion }
func (p *GetVersion) Retcode() byte { return p.RetCode }
func (p *GetVersion) String() string {
	return fmt.Sprintf("%02d.%02d.%02d.%02d", p.AA, p.BB, p.CC, p.DD)
}
func (p *GetVersion) MarshalResponse() ([]byte, error) {
	b := make([]byte, 30)
	b[0], b[1], b[2], b[3], b[4] = p.RetCode, p.AA, p.BB, p.CC, p.DD
	return b, nil
}
func (p *GetVersion) UnmarshalResponse(b []byte) error {
	if err := NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if p.RetCode != RetOK {
		return nil
	}
	if err := NeedLen(p.Key(), "response", b, 5); err != nil {
		return err
	}
	p.AA, p.BB, p.CC, p.DD = b[1], b[2], b[3], b[4]
	return nil
}

// GetProductVersion request is file type 4 and ffffffff mask at 5..8.
type GetProductVersion struct {
	FileType byte

	RetCode    byte
	AA, BB, CC int
}

func (*GetProductVersion) Key() Key        { return KeyGetProductVersion }
func (p *GetProductVersion) Retcode() byte { return p.RetCode }
func (p *GetProductVersion) String() string {
	return fmt.Sprintf("%02d.%02d.%04d", p.AA, p.BB, p.CC)
}
func (p *GetProductVersion) MarshalRequest() ([]byte, error) {
	ft := p.FileType
	if ft == 0 {
		ft = 4
	}
	return []byte{ft, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, nil
}
func (p *GetProductVersion) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.FileType = b[0]
	return nil
}
func (p *GetProductVersion) MarshalResponse() ([]byte, error) {
	b := make([]byte, 13)
	b[0] = p.RetCode
	binary.LittleEndian.PutUint16(b[9:], uint16(p.CC))
	b[11], b[12] = byte(p.BB), byte(p.AA)
	return b, nil
}
func (p *GetProductVersion) UnmarshalResponse(b []byte) error {
	if err := NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if p.RetCode != RetOK {
		return nil
	}
	if err := NeedLen(p.Key(), "response", b, 13); err != nil {
		return err
	}
	p.CC = int(binary.LittleEndian.Uint16(b[9:]))
	p.BB, p.AA = int(b[11]), int(b[12])
	return nil
}

// GetSn response: retcode, length, reserved, serial bytes.
type GetSn struct {
	Type byte

	RetCode byte
	SN      string
}

func (*GetSn) Key() Key        { return KeyGetSn }
func (p *GetSn) Retcode() byte { return p.RetCode }
func (p *GetSn) MarshalRequest() ([]byte, error) {
	t := p.Type
	if t == 0 {
		t = 1
	}
	return []byte{t}, nil
}
func (p *GetSn) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Type = b[0]
	return nil
}
func (p *GetSn) MarshalResponse() ([]byte, error) {
	b := []byte{p.RetCode, byte(len(p.SN)), 0}
	return append(b, p.SN...), nil
}
func (p *GetSn) UnmarshalResponse(b []byte) error {
	if err := NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if p.RetCode != RetOK {
		return nil
	}
	if err := NeedLen(p.Key(), "response", b, 3); err != nil {
		return err
	}
	n := int(b[1])
	if err := NeedLen(p.Key(), "response", b, 3+n); err != nil {
		return err
	}
	p.SN = string(b[3 : 3+n])
	return nil
}

func RegisterInfo(r *Registry) {
	r.MustRegister(
		Descriptor{Key: KeyGetVersion, Name: "GetVersion", Ack: AckFinish, New: func() Proto { return &GetVersion{} }},
		Descriptor{Key: KeyGetProductVersion, Name: "GetProductVersion", Ack: AckFinish, New: func() Proto { return &GetProductVersion{} }},
		Descriptor{Key: KeyGetSn, Name: "GetSn", Ack: AckFinish, New: func() Proto { return &GetSn{} }},
	)
}
