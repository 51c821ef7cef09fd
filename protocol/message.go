package protocol

import (
	"encoding/hex"
	"fmt"
)

// AckMode is the frame ack-requirement, attribute bits 5-6.
type AckMode uint8

const (
	AckNone   AckMode = 0
	AckNow    AckMode = 1
	AckFinish AckMode = 2
)

// Key is cmdset<<8 | cmdid.
type Key uint16

func MakeKey(cmdset, cmdid byte) Key { return Key(cmdset)<<8 | Key(cmdid) }

func (k Key) CmdSet() byte   { return byte(k >> 8) }
func (k Key) CmdID() byte    { return byte(k) }
func (k Key) String() string { return fmt.Sprintf("%02x/%02x", k.CmdSet(), k.CmdID()) }

type Message struct {
	Sender   Addr
	Receiver Addr
	Seq      uint16
	IsAck    bool
	NeedAck  AckMode
	CmdSet   byte
	CmdID    byte
	// Data is raw payload, Proto is decoded form when registry knows the key.
	Data  []byte
	Proto Proto
}

func (m *Message) Key() Key { return MakeKey(m.CmdSet, m.CmdID) }

// NewAck builds response frame header for request m, sender and receiver swapped.
func (m *Message) NewAck(data []byte) *Message {
	return &Message{
		Sender:   m.Receiver,
		Receiver: m.Sender,
		Seq:      m.Seq,
		IsAck:    true,
		CmdSet:   m.CmdSet,
		CmdID:    m.CmdID,
		Data:     data,
	}
}

func (m *Message) String() string {
	kind := "req"
	if m.IsAck {
		kind = "ack"
	}
	name := ""
	if m.Proto != nil {
		name = " " + fmt.Sprintf("%T", m.Proto)
	}
	return fmt.Sprintf("%s %s->%s seq=%d key=%s need=%d%s data=%s",
		kind, m.Sender, m.Receiver, m.Seq, m.Key(), m.NeedAck, name, hex.EncodeToString(m.Data))
}
