package protocol

import (
	"encoding/binary"
	"net"

	"github.com/juju/errors"
)

var (
	KeySdkConnection = MakeKey(0x3f, 0xd4)
	KeySdkHeartBeat  = MakeKey(0x3f, 0xd5)
	KeySetSdkMode    = MakeKey(0x3f, 0xd1)
	KeySetRobotMode  = MakeKey(0x3f, 0x46)
)

const (
	ConnectionStateAccept = 0
	ConnectionStateBusy   = 1
	ConnectionStateUseIP  = 2

	ConnectionWifi = 0
	ProtocolUDP    = 0
	ProtocolTCP    = 1
)

// SdkConnection negotiates session addresses.
type SdkConnection struct {
	Control    byte
	Host       byte
	Connection byte
	Protocol   byte
	IP         net.IP
	Port       uint16

	RetCode  byte
	State    byte
	ConfigIP net.IP // only with State=ConnectionStateUseIP
}

func (*SdkConnection) Key() Key        { return KeySdkConnection }
func (p *SdkConnection) Retcode() byte { return p.RetCode }

func (p *SdkConnection) MarshalRequest() ([]byte, error) {
	b := make([]byte, 10)
	b[0], b[1], b[2], b[3] = p.Control, p.Host, p.Connection, p.Protocol
	ip4 := net.IPv4zero.To4()
	if p.IP != nil {
		if ip4 = p.IP.To4(); ip4 == nil {
			return nil, errors.NotValidf("sdk connection ip=%s not IPv4", p.IP)
		}
	}
	copy(b[4:8], ip4)
	binary.LittleEndian.PutUint16(b[8:], p.Port)
	return b, nil
}

func (p *SdkConnection) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 10); err != nil {
		return err
	}
	p.Control, p.Host, p.Connection, p.Protocol = b[0], b[1], b[2], b[3]
	p.IP = net.IPv4(b[4], b[5], b[6], b[7])
	p.Port = binary.LittleEndian.Uint16(b[8:])
	return nil
}

func (p *SdkConnection) MarshalResponse() ([]byte, error) {
	b := []byte{p.RetCode, p.State}
	if p.State == ConnectionStateUseIP {
		ip4 := p.ConfigIP.To4()
		if ip4 == nil {
			return nil, errors.NotValidf("sdk connection config ip=%s", p.ConfigIP)
		}
		b = append(b, ip4...)
	}
	return b, nil
}

func (p *SdkConnection) UnmarshalResponse(b []byte) error {
	if err := NeedLen(p.Key(), "response", b, 1); err != nil {
		return err
	}
	p.RetCode = b[0]
	if p.RetCode != RetOK {
		return nil
	}
	if err := NeedLen(p.Key(), "response", b, 2); err != nil {
		return err
	}
	p.State = b[1]
	if p.State == ConnectionStateUseIP {
		if err := NeedLen(p.Key(), "response", b, 6); err != nil {
			return err
		}
		p.ConfigIP = net.IPv4(b[2], b[3], b[4], b[5])
	}
	return nil
}

type SdkHeartBeat struct {
	Empty
	Reply
}

func (*SdkHeartBeat) Key() Key { return KeySdkHeartBeat }

type SetSdkMode struct {
	Enable bool
	Reply
}

func (*SetSdkMode) Key() Key { return KeySetSdkMode }
func (p *SetSdkMode) MarshalRequest() ([]byte, error) {
	if p.Enable {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}
func (p *SetSdkMode) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Enable = b[0] != 0
	return nil
}

type RobotMode byte

const (
	RobotModeFree        RobotMode = 0
	RobotModeGimbalLead  RobotMode = 1
	RobotModeChassisLead RobotMode = 2
)

type SetRobotMode struct {
	Mode RobotMode
	Reply
}

func (*SetRobotMode) Key() Key                          { return KeySetRobotMode }
func (p *SetRobotMode) MarshalRequest() ([]byte, error) { return []byte{byte(p.Mode)}, nil }
func (p *SetRobotMode) UnmarshalRequest(b []byte) error {
	if err := NeedLen(p.Key(), "request", b, 1); err != nil {
		return err
	}
	p.Mode = RobotMode(b[0])
	return nil
}

func RegisterSDK(r *Registry) {
	r.MustRegister(
		Descriptor{Key: KeySdkConnection, Name: "SdkConnection", Ack: AckFinish, New: func() Proto { return &SdkConnection{} }},
		// heartbeat is fire and forget, no synchronous caller may block on it
		Descriptor{Key: KeySdkHeartBeat, Name: "SdkHeartBeat", Ack: AckNone, New: func() Proto { return &SdkHeartBeat{} }},
		Descriptor{Key: KeySetSdkMode, Name: "SetSdkMode", Ack: AckFinish, New: func() Proto { return &SetSdkMode{} }},
		Descriptor{Key: KeySetRobotMode, Name: "SetRobotMode", Ack: AckFinish, New: func() Proto { return &SetRobotMode{} }},
	)
}
