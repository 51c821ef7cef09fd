package transport

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Send  CountSizePair
	Recv  CountSizePair
	Error expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"send":%s,"recv":%s,"error":%d}`, s.Send.String(), s.Recv.String(), s.Error.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Register(size int) {
	csp.Count.Add(1)
	csp.Size.Add(int64(size))
}

func (csp *CountSizePair) String() string {
	return fmt.Sprintf(`{"count":%d,"size":%d}`, csp.Count.Value(), csp.Size.Value())
}
