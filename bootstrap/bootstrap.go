// Package bootstrap negotiates session addresses with the robot over a throwaway UDP socket.
package bootstrap

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/transport"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultPortMin = 10100
	DefaultPortMax = 10500
)

var DefaultDevice = &net.UDPAddr{IP: net.IPv4(192, 168, 2, 1), Port: 20020}

var ErrBusy = errors.New("bootstrap rejected, robot service busy")

type Options struct {
	Log *log2.Log
	// Device receives handshake. Session defaults to the same address.
	Device   *net.UDPAddr
	Session  *net.UDPAddr
	Host     protocol.Addr
	Protocol byte
	PortMin  int
	PortMax  int
	Timeout  time.Duration
	Rand     *rand.Rand
}

type Result struct {
	Local  *net.UDPAddr
	Remote *net.UDPAddr
	State  byte
}

func (opt *Options) defaults() {
	if opt.Device == nil {
		opt.Device = DefaultDevice
	}
	if opt.Session == nil {
		opt.Session = opt.Device
	}
	if opt.Host == 0 {
		opt.Host = protocol.AddrSDK
	}
	if opt.PortMin == 0 {
		opt.PortMin = DefaultPortMin
	}
	if opt.PortMax == 0 {
		opt.PortMax = DefaultPortMax
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// Request runs one handshake. Timeout and rejection are final for this attempt,
// caller may retry whole Request.
func Request(ctx context.Context, opt Options) (Result, error) {
	opt.defaults()
	if opt.PortMax < opt.PortMin {
		return Result{}, errors.NotValidf("bootstrap port range %d-%d", opt.PortMin, opt.PortMax)
	}
	port := opt.PortMin + opt.Rand.Intn(opt.PortMax-opt.PortMin+1)
	req := &protocol.SdkConnection{
		Host:       byte(opt.Host),
		Connection: protocol.ConnectionWifi,
		Protocol:   opt.Protocol,
		IP:         net.IPv4zero,
		Port:       uint16(port),
	}
	m, err := protocol.Default.NewRequest(opt.Host, protocol.AddrRobot, req)
	if err != nil {
		return Result{}, errors.Trace(err)
	}
	m.Seq = protocol.NewSeqCycle().Next()
	b, err := protocol.Encode(m)
	if err != nil {
		return Result{}, errors.Trace(err)
	}

	conn, err := transport.Listen(ctx, transport.Options{
		Log:       opt.Log,
		Remote:    opt.Device,
		ReadSize:  transport.BootstrapReadSize,
		ReuseAddr: true,
	})
	if err != nil {
		return Result{}, errors.Annotate(err, "bootstrap")
	}
	defer conn.Close()

	opt.Log.Debugf("bootstrap: request device=%s port=%d", opt.Device, port)
	if err = conn.Send(b); err != nil {
		return Result{}, errors.Annotate(err, "bootstrap")
	}
	resp, err := receive(ctx, conn, m, opt)
	if err != nil {
		return Result{}, err
	}
	if err = protocol.CheckRetcode(resp); err != nil {
		return Result{}, errors.Annotate(err, "bootstrap")
	}

	r := Result{
		Local:  &net.UDPAddr{IP: net.IPv4zero, Port: port},
		Remote: opt.Session,
		State:  resp.State,
	}
	switch resp.State {
	case protocol.ConnectionStateAccept:
		opt.Log.Infof("bootstrap: accepted local=%s", r.Local)
	case protocol.ConnectionStateBusy:
		return Result{}, ErrBusy
	case protocol.ConnectionStateUseIP:
		r.Local.IP = resp.ConfigIP
		opt.Log.Infof("bootstrap: robot provided local=%s", r.Local)
	default:
		return Result{}, errors.NotValidf("bootstrap response state=%d", resp.State)
	}
	return r, nil
}

// receive skips datagrams that are not the ack for req until deadline.
func receive(ctx context.Context, conn *transport.Conn, req *protocol.Message, opt Options) (*protocol.SdkConnection, error) {
	deadline := time.Now().Add(opt.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, errors.Timeoutf("bootstrap device=%s response timeout=%s", opt.Device, opt.Timeout)
		}
		b, _, err := conn.Receive(left)
		if err != nil {
			if errors.IsTimeout(err) {
				return nil, errors.Timeoutf("bootstrap device=%s response timeout=%s", opt.Device, opt.Timeout)
			}
			return nil, errors.Annotate(err, "bootstrap")
		}
		m, _, err := protocol.Decode(b)
		if err != nil || m == nil {
			opt.Log.Debugf("bootstrap: skip datagram=%x err=%v", b, err)
			continue
		}
		if !m.IsAck || m.Key() != protocol.KeySdkConnection || m.Seq != req.Seq {
			opt.Log.Debugf("bootstrap: skip %s", m)
			continue
		}
		if err = protocol.Default.Decode(m); err != nil {
			return nil, errors.Annotate(err, "bootstrap")
		}
		return m.Proto.(*protocol.SdkConnection), nil
	}
}
