package protocol

import "fmt"

// Addr is a node address byte: index*32 + host.
type Addr byte

func HostAddr(host, index uint8) Addr { return Addr(index<<5 | host&0x1f) }

func (a Addr) Host() uint8  { return uint8(a) & 0x1f }
func (a Addr) Index() uint8 { return uint8(a) >> 5 }

func (a Addr) String() string { return fmt.Sprintf("%d.%d", a.Host(), a.Index()) }

// Well known nodes.
var (
	AddrSDK     = HostAddr(9, 6) // this side
	AddrRobot   = HostAddr(9, 0) // robot SDK dispatcher
	AddrChassis = HostAddr(3, 6)
	AddrVersion = HostAddr(8, 1)
)
