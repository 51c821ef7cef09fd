package client

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Sent        expvar.Int
	Received    expvar.Int
	Acked       expvar.Int
	FrameError  expvar.Int
	DecodeError expvar.Int
	Unknown     expvar.Int
	Timeout     expvar.Int
	PendingFull expvar.Int
	Heartbeat   expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"sent":%d,"received":%d,"acked":%d,"frame_error":%d,"decode_error":%d,"unknown":%d,"timeout":%d,"pending_full":%d,"heartbeat":%d}`,
		s.Sent.Value(), s.Received.Value(), s.Acked.Value(), s.FrameError.Value(), s.DecodeError.Value(),
		s.Unknown.Value(), s.Timeout.Value(), s.PendingFull.Value(), s.Heartbeat.Value())
}
