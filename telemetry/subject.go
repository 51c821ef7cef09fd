package telemetry

import (
	"fmt"

	"github.com/temoto/rmlink/protocol"
)

type Kind int

const (
	Period Kind = iota
	Event
)

func (k Kind) String() string {
	switch k {
	case Period:
		return "period"
	case Event:
		return "event"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Well-known period subject identifiers.
const (
	UIDAttitude = 0x000200096b986306
	UIDPosition = 0x00020009eeb7cece
	UIDSaStatus = 0x000200094a2c6d55
	UIDImu      = 0x00020009a7985b8d
)

// Freq values accepted by device, Hz.
var Freqs = []byte{1, 5, 10, 20, 50}

// Subject is one named data stream.
// Decode runs on dispatch goroutine, one call at a time, so it may keep state.
// Callback runs on pool worker with the value Decode returned.
type Subject struct {
	Name string
	Kind Kind
	// Period only.
	UID  uint64
	Freq byte
	// Event only, exact cmdset/cmdid match.
	Key protocol.Key

	Decode   func(data []byte) (interface{}, error)
	Callback func(v interface{})

	// guarded by Subscriber.mu
	msgID byte
	task  *Task
}

func (s *Subject) String() string {
	if s.Kind == Event {
		return fmt.Sprintf("subject=%s kind=%s key=%s", s.Name, s.Kind, s.Key)
	}
	return fmt.Sprintf("subject=%s kind=%s uid=%016x freq=%d", s.Name, s.Kind, s.UID, s.Freq)
}
