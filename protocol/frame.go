package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/crc"
)

const (
	Magic = 0x55
	// head(4) + sender, receiver, seq(2), attr, cmdset, cmdid + crc16(2)
	FrameOverhead  = 13
	MaxFrameLength = 0x3ff

	headLength = 4
	dataOffset = 11

	attrAck      = 0x80
	attrNeedMask = 0x60
	attrNeedBit  = 5
	// version flag carried in length high byte
	lengthFlag = 0x04
)

// Encode wraps m into a checksummed frame.
func Encode(m *Message) ([]byte, error) {
	n := FrameOverhead + len(m.Data)
	if n > MaxFrameLength {
		return nil, errors.NotValidf("frame key=%s data length=%d > max=%d", m.Key(), len(m.Data), MaxFrameLength-FrameOverhead)
	}
	if m.NeedAck > AckFinish {
		return nil, errors.NotValidf("frame key=%s need_ack=%d", m.Key(), m.NeedAck)
	}
	b := make([]byte, n)
	b[0] = Magic
	b[1] = byte(n)
	b[2] = byte(n>>8)&0x03 | lengthFlag
	b[3] = crc.CRC8(b[:3])
	b[4] = byte(m.Sender)
	b[5] = byte(m.Receiver)
	binary.LittleEndian.PutUint16(b[6:], m.Seq)
	attr := byte(m.NeedAck) << attrNeedBit
	if m.IsAck {
		attr |= attrAck
	}
	b[8] = attr
	b[9] = m.CmdSet
	b[10] = m.CmdID
	copy(b[dataOffset:], m.Data)
	binary.LittleEndian.PutUint16(b[n-2:], crc.CRC16(b[:n-2]))
	return b, nil
}

// Decode parses at most one frame from the start of buf.
// (nil, buf, nil) means more bytes are needed, buf is untouched.
// On corrupt head it resyncs to the next magic byte; on bad trailer the declared
// frame length is dropped. Either way the error is a framing error (errors.IsNotValid)
// and decoding may continue with rest.
func Decode(buf []byte) (m *Message, rest []byte, err error) {
	if len(buf) < headLength {
		return nil, buf, nil
	}
	if buf[0] != Magic {
		return nil, resync(buf), errors.NotValidf("frame magic=%02x", buf[0])
	}
	if c := crc.CRC8(buf[:3]); c != buf[3] {
		return nil, resync(buf), errors.NotValidf("frame head=%x crc8=%02x actual=%02x", buf[:4], buf[3], c)
	}
	length := int(buf[2]&0x03)<<8 | int(buf[1])
	if length < FrameOverhead {
		return nil, resync(buf), errors.NotValidf("frame claims length=%d < min=%d", length, FrameOverhead)
	}
	if len(buf) < length {
		return nil, buf, nil
	}
	frame, rest := buf[:length], buf[length:]
	crcIn := binary.LittleEndian.Uint16(frame[length-2:])
	if c := crc.CRC16(frame[:length-2]); c != crcIn {
		return nil, rest, errors.NotValidf("frame=%x crc16=%04x actual=%04x", frame, crcIn, c)
	}
	attr := frame[8]
	m = &Message{
		Sender:   Addr(frame[4]),
		Receiver: Addr(frame[5]),
		Seq:      binary.LittleEndian.Uint16(frame[6:]),
		IsAck:    attr&attrAck != 0,
		NeedAck:  AckMode((attr & attrNeedMask) >> attrNeedBit),
		CmdSet:   frame[9],
		CmdID:    frame[10],
	}
	if dl := length - FrameOverhead; dl > 0 {
		m.Data = make([]byte, dl)
		copy(m.Data, frame[dataOffset:length-2])
	}
	return m, rest, nil
}

func resync(buf []byte) []byte {
	if i := bytes.IndexByte(buf[1:], Magic); i >= 0 {
		return buf[1+i:]
	}
	return buf[len(buf):]
}
