package robot_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/bootstrap"
	"github.com/temoto/rmlink/chassis"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/internal/simrobot"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/robot"
)

func freePort(t testing.TB) int {
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).Port
	c.Close()
	return port
}

func testRobot(t testing.TB, sopt simrobot.Options) (*simrobot.Robot, *robot.Robot) {
	log := log2.NewTest(t, log2.LDebug)
	sopt.Log = log
	sim, err := simrobot.Start(sopt)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })

	port := freePort(t)
	r := robot.New(robot.Options{
		Log: log,
		Bootstrap: bootstrap.Options{
			Device:  sim.Addr(),
			PortMin: port,
			PortMax: port,
			Timeout: 200 * time.Millisecond,
		},
		Client: client.Options{
			HeartbeatInterval: 20 * time.Millisecond,
			SyncTimeout:       500 * time.Millisecond,
		},
		Retries: 2,
	})
	return sim, r
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	sim, r := testRobot(t, simrobot.Options{Version: [4]byte{1, 0, 4, 2}, SN: "3JKCH8800100X1"})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))
	assert.True(t, sim.SdkMode())
	assert.Equal(t, protocol.RobotModeFree, sim.Mode())
	for _, k := range []protocol.Key{protocol.KeySubNodeReset, protocol.KeySubAddNode, protocol.KeySetRobotMode} {
		assert.Len(t, sim.Received(k), 1, k.String())
	}
	_, err := sim.WaitReceived(protocol.KeySdkHeartBeat, 2, time.Second)
	require.NoError(t, err)

	v, err := r.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01.00.04.02", v)
	sn, err := r.SerialNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3JKCH8800100X1", sn)
	require.NoError(t, r.SetMode(ctx, protocol.RobotModeGimbalLead))
	assert.Equal(t, protocol.RobotModeGimbalLead, sim.Mode())

	assert.True(t, errors.IsAlreadyExists(r.Initialize(ctx)))
	require.NoError(t, r.Close())
	assert.False(t, sim.SdkMode())
	assert.False(t, r.Client().Running())
	require.NoError(t, r.Close())

	_, err = r.Version(ctx)
	assert.Equal(t, client.ErrNotStarted, errors.Cause(err))
}

func TestInitializeUseIP(t *testing.T) {
	t.Parallel()
	sim, r := testRobot(t, simrobot.Options{
		BootstrapState: protocol.ConnectionStateUseIP,
		ConfigIP:       net.IPv4(127, 0, 0, 1),
	})
	require.NoError(t, r.Initialize(context.Background()))
	defer r.Close()
	assert.True(t, r.Client().LocalAddr().IP.Equal(net.IPv4(127, 0, 0, 1)), r.Client().LocalAddr().String())

	before := len(sim.Received(protocol.KeySdkHeartBeat))
	require.NoError(t, r.Client().Heartbeat())
	_, err := sim.WaitReceived(protocol.KeySdkHeartBeat, before+1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Client().Pending())
}

func TestMove(t *testing.T) {
	t.Parallel()
	_, r := testRobot(t, simrobot.Options{MoveDuration: 40 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))
	defer r.Close()

	a, err := r.Chassis().Move(ctx, 0.5, 0, 90, 0, 0)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(wctx))
	assert.Equal(t, action.Succeeded, a.State())
	assert.Equal(t, uint8(100), a.Percent())
	x, _, z := a.Command().(*chassis.MoveCommand).Position()
	assert.InDelta(t, 0.5, x, 0.001)
	assert.InDelta(t, 90, z, 0.1)
}

func TestMoveRejected(t *testing.T) {
	t.Parallel()
	_, r := testRobot(t, simrobot.Options{MoveAccept: 1})
	require.NoError(t, r.Initialize(context.Background()))
	defer r.Close()

	a, err := r.Chassis().Move(context.Background(), 0.1, 0, 0, 0, 0)
	require.Error(t, err)
	assert.Equal(t, action.Rejected, a.State())
}

func TestSubscribePosition(t *testing.T) {
	t.Parallel()
	_, r := testRobot(t, simrobot.Options{})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))

	got := make(chan chassis.Position, 16)
	require.NoError(t, r.Chassis().SubPosition(ctx, chassis.PositionFromCurrent, 20, func(p chassis.Position) {
		select {
		case got <- p:
		default:
		}
	}))
	select {
	case p := <-got:
		assert.Equal(t, chassis.Position{}, p)
	case <-time.After(time.Second):
		t.Fatal("no position sample")
	}
	assert.Equal(t, []string{chassis.SubjectPosition}, r.Subscriber().Subjects())
	require.NoError(t, r.Close())
	assert.Len(t, r.Subscriber().Subjects(), 0)
}

func TestInitializeSetupError(t *testing.T) {
	t.Parallel()
	_, r := testRobot(t, simrobot.Options{Retcodes: map[protocol.Key]byte{protocol.KeySetSdkMode: 0x01}})
	err := r.Initialize(context.Background())
	require.Error(t, err)
	_, ok := protocol.IsRetcode(err)
	assert.True(t, ok, errors.ErrorStack(err))
	assert.False(t, r.Client().Running())
}

func TestBootstrapRetries(t *testing.T) {
	t.Parallel()
	_, r := testRobot(t, simrobot.Options{
		BootstrapState: protocol.ConnectionStateBusy,
	})
	started := time.Now()
	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, bootstrap.ErrBusy, errors.Cause(err))
	// one backoff delay between two attempts
	assert.True(t, time.Since(started) >= 450*time.Millisecond)
	assert.Nil(t, r.Client())
}

func TestBootstrapBackoffOption(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	sim, err := simrobot.Start(simrobot.Options{Log: log, BootstrapState: protocol.ConnectionStateBusy})
	require.NoError(t, err)
	defer sim.Close()

	port := freePort(t)
	bo := &helpers.Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond, K: 2}
	r := robot.New(robot.Options{
		Log:       log,
		Bootstrap: bootstrap.Options{Device: sim.Addr(), PortMin: port, PortMax: port, Timeout: 200 * time.Millisecond},
		Retries:   3,
		Backoff:   bo,
	})
	started := time.Now()
	err = r.Initialize(context.Background())
	assert.Equal(t, bootstrap.ErrBusy, errors.Cause(err))
	assert.True(t, time.Since(started) < 400*time.Millisecond, time.Since(started).String())
	// caller owned backoff keeps state after the last failed attempt
	assert.True(t, bo.DelayBefore() > 0)
	assert.Len(t, sim.Received(protocol.KeySdkConnection), 3)
}
