package telemetry

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Received    expvar.Int
	Dropped     expvar.Int
	Coalesced   expvar.Int
	Delivered   expvar.Int
	DecodeError expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"received":%d,"dropped":%d,"coalesced":%d,"delivered":%d,"decode_error":%d}`,
		s.Received.Value(), s.Dropped.Value(), s.Coalesced.Value(), s.Delivered.Value(), s.DecodeError.Value())
}
