package protocol

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	RetOK = 0x00
	// subscription node is already added, treated as success
	RetSubNodeExists = 0x50
)

// RetcodeError is device rejection of a command. It is recoverable, caller decides on retry.
type RetcodeError struct {
	Key  Key
	Code byte
}

func (e RetcodeError) Error() string {
	return fmt.Sprintf("device rejected key=%s retcode=%d", e.Key, e.Code)
}

func IsRetcode(err error) (RetcodeError, bool) {
	re, ok := errors.Cause(err).(RetcodeError)
	return re, ok
}

// CheckRetcode returns RetcodeError for nonzero response code.
func CheckRetcode(p Proto) error {
	r, ok := p.(Retcoder)
	if !ok {
		return nil
	}
	if c := r.Retcode(); c != RetOK {
		return RetcodeError{Key: p.Key(), Code: c}
	}
	return nil
}
