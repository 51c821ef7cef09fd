// Package robot wires handshake, session and command modules into one lifecycle.
package robot

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/bootstrap"
	"github.com/temoto/rmlink/chassis"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/telemetry"
)

const (
	DefaultRetries = 3
	// subscription protocol version sent with SubAddNode
	SubNodeVersion = 0x03000000
)

type Options struct {
	Log       *log2.Log
	Bootstrap bootstrap.Options
	Client    client.Options
	Telemetry telemetry.Options
	// Retries is bootstrap attempts count, negative means one.
	Retries int
	// Backoff between bootstrap attempts, nil means 0.5s doubling up to 5s.
	Backoff *helpers.Backoff
	// SkipBootstrap uses Client.Local and Client.Remote as is.
	SkipBootstrap bool
}

type Robot struct {
	Log *log2.Log
	opt Options

	mu          sync.Mutex
	initialized bool
	client      *client.Client
	actions     *action.Dispatcher
	sub         *telemetry.Subscriber
	chassis     *chassis.Chassis
}

func New(opt Options) *Robot {
	if opt.Retries == 0 {
		opt.Retries = DefaultRetries
	} else if opt.Retries < 0 {
		opt.Retries = 1
	}
	if opt.Backoff == nil {
		opt.Backoff = &helpers.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, K: 2}
	}
	if opt.Bootstrap.Log == nil {
		opt.Bootstrap.Log = opt.Log
	}
	if opt.Client.Log == nil {
		opt.Client.Log = opt.Log
	}
	if opt.Telemetry.Log == nil {
		opt.Telemetry.Log = opt.Log
	}
	return &Robot{Log: opt.Log, opt: opt}
}

func (r *Robot) Client() *client.Client            { return r.client }
func (r *Robot) Actions() *action.Dispatcher       { return r.actions }
func (r *Robot) Subscriber() *telemetry.Subscriber { return r.sub }
func (r *Robot) Chassis() *chassis.Chassis         { return r.chassis }

// Initialize runs handshake, starts session and resets device side state.
// On error everything started so far is stopped.
func (r *Robot) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return errors.AlreadyExistsf("robot initialized")
	}

	copt := r.opt.Client
	if !r.opt.SkipBootstrap {
		res, err := r.bootstrap(ctx)
		if err != nil {
			return errors.Annotate(err, "robot initialize")
		}
		copt.Local = res.Local
		copt.Remote = res.Remote
	}
	c, err := client.New(copt)
	if err != nil {
		return errors.Annotate(err, "robot initialize")
	}
	if err = c.Start(ctx); err != nil {
		return errors.Annotate(err, "robot initialize")
	}
	r.client = c
	r.actions = action.NewDispatcher(r.Log, c)
	r.actions.Start()
	r.sub = telemetry.NewSubscriber(c, r.opt.Telemetry)
	r.sub.Start()
	r.chassis = chassis.New(r.Log, c, r.actions, r.sub)

	if err = r.setup(ctx); err != nil {
		_ = r.stop()
		return errors.Annotate(err, "robot initialize")
	}
	r.initialized = true
	r.Log.Infof("robot: session local=%s remote=%s", c.LocalAddr(), copt.Remote)
	return nil
}

func (r *Robot) bootstrap(ctx context.Context) (bootstrap.Result, error) {
	var err error
	var res bootstrap.Result
	r.opt.Backoff.Reset()
	for i := 1; i <= r.opt.Retries; i++ {
		select {
		case <-time.After(r.opt.Backoff.DelayBefore()):
		case <-ctx.Done():
			return res, ctx.Err()
		}
		res, err = bootstrap.Request(ctx, r.opt.Bootstrap)
		if err == nil {
			return res, nil
		}
		if errors.IsNotValid(err) || ctx.Err() != nil {
			return res, err
		}
		r.Log.Errorf("robot: bootstrap attempt=%d/%d err=%v", i, r.opt.Retries, err)
		r.opt.Backoff.Failure()
	}
	return res, errors.Annotatef(err, "bootstrap attempts=%d", r.opt.Retries)
}

func (r *Robot) setup(ctx context.Context) error {
	if _, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.SetSdkMode{Enable: true}); err != nil {
		return errors.Annotate(err, "enable sdk mode")
	}
	return r.reset(ctx)
}

func (r *Robot) reset(ctx context.Context) error {
	host := r.client.Host()
	if _, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.SubNodeReset{Node: host}); err != nil {
		return errors.Annotate(err, "subscription reset")
	}
	if _, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.SubAddNode{Node: host, Version: SubNodeVersion}); err != nil {
		return errors.Annotate(err, "subscription add node")
	}
	return r.setMode(ctx, protocol.RobotModeFree)
}

// Reset drops device subscriptions and returns to free mode.
func (r *Robot) Reset(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.reset(ctx)
}

// Close disables sdk mode and stops everything. Errors are folded.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil
	}
	r.initialized = false
	return r.stop()
}

func (r *Robot) stop() error {
	errs := make([]error, 0, 4)
	ctx := context.Background()
	if r.chassis != nil {
		r.chassis.Stop()
	}
	if r.sub != nil {
		for _, name := range r.sub.Subjects() {
			errs = append(errs, r.sub.Unsubscribe(ctx, name))
		}
	}
	if r.client != nil && r.client.Running() {
		_, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.SetSdkMode{Enable: false})
		errs = append(errs, errors.Annotate(err, "disable sdk mode"))
	}
	if r.actions != nil {
		r.actions.Close()
	}
	if r.sub != nil {
		r.sub.Close()
	}
	if r.client != nil {
		errs = append(errs, r.client.Stop())
	}
	return helpers.FoldErrors(errs)
}

func (r *Robot) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errors.Annotate(client.ErrNotStarted, "robot")
	}
	return nil
}

func (r *Robot) Version(ctx context.Context) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	p, err := r.client.Call(ctx, protocol.AddrVersion, &protocol.GetVersion{})
	if err != nil {
		return "", errors.Annotate(err, "robot version")
	}
	return p.(*protocol.GetVersion).String(), nil
}

func (r *Robot) ProductVersion(ctx context.Context) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	p, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.GetProductVersion{})
	if err != nil {
		return "", errors.Annotate(err, "robot product version")
	}
	return p.(*protocol.GetProductVersion).String(), nil
}

func (r *Robot) SerialNumber(ctx context.Context) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	p, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.GetSn{Type: 1})
	if err != nil {
		return "", errors.Annotate(err, "robot serial number")
	}
	return p.(*protocol.GetSn).SN, nil
}

func (r *Robot) SetMode(ctx context.Context, mode protocol.RobotMode) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.setMode(ctx, mode)
}

func (r *Robot) setMode(ctx context.Context, mode protocol.RobotMode) error {
	_, err := r.client.Call(ctx, protocol.AddrRobot, &protocol.SetRobotMode{Mode: mode})
	return errors.Annotatef(err, "robot mode=%d", mode)
}

// Remote is session peer address, nil before Initialize.
func (r *Robot) Remote() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	return r.client.Remote()
}
