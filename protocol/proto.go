package protocol

import (
	"github.com/juju/errors"
)

// Proto is a typed payload for one (cmdset, cmdid).
// Request side travels host->device, response side is the ack payload.
// Device pushes are decoded with UnmarshalRequest.
type Proto interface {
	Key() Key
	MarshalRequest() ([]byte, error)
	UnmarshalRequest(b []byte) error
	MarshalResponse() ([]byte, error)
	UnmarshalResponse(b []byte) error
}

// Retcoder is implemented by responses carrying return code in first byte.
type Retcoder interface {
	Retcode() byte
}

// Reply is embedded by protos whose response is retcode only.
type Reply struct {
	RetCode byte
}

func (r *Reply) Retcode() byte { return r.RetCode }

func (r *Reply) MarshalResponse() ([]byte, error) { return []byte{r.RetCode}, nil }

func (r *Reply) UnmarshalResponse(b []byte) error {
	if len(b) < 1 {
		return errors.NotValidf("response empty")
	}
	r.RetCode = b[0]
	return nil
}

// Empty is embedded by protos without request payload.
type Empty struct{}

func (Empty) MarshalRequest() ([]byte, error) { return nil, nil }
func (Empty) UnmarshalRequest([]byte) error   { return nil }

// NoResponse is embedded by push-only protos.
type NoResponse struct{}

func (NoResponse) MarshalResponse() ([]byte, error) { return nil, nil }
func (NoResponse) UnmarshalResponse([]byte) error   { return nil }

// NeedLen is payload length check for Unmarshal implementations.
func NeedLen(k Key, side string, b []byte, n int) error {
	if len(b) < n {
		return errors.NotValidf("proto=%s %s length=%d < %d", k, side, len(b), n)
	}
	return nil
}
