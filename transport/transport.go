// Package transport owns one UDP socket talking to one peer.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/log2"
)

const (
	SessionReadSize   = 2048
	BootstrapReadSize = 1024
)

type Options struct {
	Log      *log2.Log
	Local    *net.UDPAddr
	Remote   *net.UDPAddr
	ReadSize int
	// SO_REUSEADDR before bind
	ReuseAddr bool
}

type Conn struct {
	log    *log2.Log
	conn   *net.UDPConn
	remote *net.UDPAddr
	self   *net.UDPAddr
	buf    []byte
	stat   Stat
}

func Listen(ctx context.Context, opt Options) (*Conn, error) {
	if opt.Remote == nil {
		return nil, errors.NotValidf("code error transport Remote=nil")
	}
	if opt.ReadSize == 0 {
		opt.ReadSize = SessionReadSize
	}
	local := opt.Local
	if local == nil {
		local = &net.UDPAddr{}
	}
	lc := net.ListenConfig{}
	if opt.ReuseAddr {
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(ctx, "udp4", local.String())
	if err != nil {
		return nil, errors.Annotatef(err, "transport listen local=%s", local)
	}
	conn := pc.(*net.UDPConn)
	bound := conn.LocalAddr().(*net.UDPAddr)
	self := &net.UDPAddr{IP: bound.IP, Port: bound.Port}
	if self.IP == nil || self.IP.IsUnspecified() {
		self.IP = net.IPv4(127, 0, 0, 1)
	}
	c := &Conn{
		log:    opt.Log,
		conn:   conn,
		remote: opt.Remote,
		self:   self,
		buf:    make([]byte, opt.ReadSize),
	}
	c.log.Debugf("transport: listen local=%s remote=%s", bound, opt.Remote)
	return c, nil
}

func (c *Conn) LocalAddr() *net.UDPAddr  { return c.conn.LocalAddr().(*net.UDPAddr) }
func (c *Conn) RemoteAddr() *net.UDPAddr { return c.remote }
func (c *Conn) Stat() *Stat              { return &c.stat }

func (c *Conn) Send(b []byte) error {
	n, err := c.conn.WriteToUDP(b, c.remote)
	if err != nil {
		c.stat.Error.Add(1)
		return errors.Annotatef(err, "transport send remote=%s", c.remote)
	}
	c.stat.Send.Register(n)
	return nil
}

// SendSelf delivers b to own socket, used to unblock pending Receive.
func (c *Conn) SendSelf(b []byte) error {
	_, err := c.conn.WriteToUDP(b, c.self)
	return errors.Annotatef(err, "transport send self=%s", c.self)
}

// Receive blocks for one datagram. Returned slice is valid until next Receive.
// Zero timeout means no deadline.
func (c *Conn) Receive(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout != 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, errors.Trace(err)
	}
	n, from, err := c.conn.ReadFromUDP(c.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, errors.NewTimeout(err, "transport receive")
		}
		c.stat.Error.Add(1)
		return nil, nil, errors.Annotate(err, "transport receive")
	}
	c.stat.Recv.Register(n)
	return c.buf[:n], from, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
