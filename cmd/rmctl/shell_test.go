package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/rmlink/bootstrap"
	"github.com/temoto/rmlink/chassis"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/cmd/rmctl/subcmd"
	"github.com/temoto/rmlink/helpers/cli"
	"github.com/temoto/rmlink/internal/metrics"
	"github.com/temoto/rmlink/internal/simrobot"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/robot"
)

type syncBuffer struct {
	lockedWriter
	buf bytes.Buffer
}

func newSyncBuffer() *syncBuffer {
	b := &syncBuffer{}
	b.w = &b.buf
	return b
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testSession(t testing.TB) (*simrobot.Robot, *robot.Robot, *shell, *syncBuffer) {
	log := log2.NewTest(t, log2.LDebug)
	sim, err := simrobot.Start(simrobot.Options{Log: log, Version: [4]byte{1, 2, 0, 9}, SN: "TESTSN", MoveDuration: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })

	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).Port
	c.Close()

	r := robot.New(robot.Options{
		Log:       log,
		Bootstrap: bootstrap.Options{Device: sim.Addr(), PortMin: port, PortMax: port, Timeout: time.Second},
		Client:    client.Options{HeartbeatInterval: -1, SyncTimeout: time.Second},
	})
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(func() { r.Close() })

	out := newSyncBuffer()
	s := newShell(&subcmd.Env{Log: log, Out: out}, r)
	s.out = out
	s.moveWait = 2 * time.Second
	return sim, r, s, out
}

func TestShellCommands(t *testing.T) {
	t.Parallel()
	sim, _, s, out := testSession(t)
	ctx := context.Background()
	script := "version\nsn\nmode chassis\nmove 0.2 0 0\n\nwheels 10 10 10 10 0\n"
	require.NoError(t, cli.ReadLoop(strings.NewReader(script), func(line string) {
		assert.NoError(t, s.exec(ctx, line), line)
	}))
	text := out.String()
	assert.Contains(t, text, "version 01.02.00.09\n")
	assert.Contains(t, text, "sn TESTSN\n")
	assert.Contains(t, text, "move ")
	assert.Equal(t, protocol.RobotModeChassisLead, sim.Mode())
	assert.Len(t, sim.Received(chassis.KeyPositionMove), 1)
	assert.Len(t, sim.Received(chassis.KeyWheelSpeed), 1)
}

func TestShellErrors(t *testing.T) {
	t.Parallel()
	_, _, s, _ := testSession(t)
	ctx := context.Background()
	cases := []struct {
		line  string
		check func(error) bool
	}{
		{"dance", errors.IsNotFound},
		{"mode fast", errors.IsNotValid},
		{"move 1 2", errors.IsNotValid},
		{"drive 1 x 0 1", errors.IsNotValid},
		{"pwm percent 9=50", errors.IsNotValid},
		{"pwm level 1=50", errors.IsNotValid},
		{"sub gimbal", errors.IsNotFound},
		{"unsub position", errors.IsNotFound},
	}
	for _, c := range cases {
		err := s.exec(ctx, c.line)
		require.Error(t, err, c.line)
		assert.True(t, c.check(err), "line=%s err=%s", c.line, errors.ErrorStack(err))
	}
	assert.NoError(t, s.exec(ctx, "   "))
}

func TestShellSubscribe(t *testing.T) {
	t.Parallel()
	_, r, s, out := testSession(t)
	ctx := context.Background()
	require.NoError(t, s.exec(ctx, "sub position 20"))
	require.NoError(t, s.exec(ctx, "subjects"))
	assert.Contains(t, out.String(), "subjects position\n")
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "position {X:0 Y:0 Z:0}") },
		time.Second, 10*time.Millisecond)
	require.NoError(t, s.exec(ctx, "unsub position"))
	assert.Len(t, r.Subscriber().Subjects(), 0)
}

func TestMonitorRoutes(t *testing.T) {
	t.Parallel()
	_, r, s, _ := testSession(t)
	require.NoError(t, s.exec(context.Background(), "sub sa_status 5"))
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(r.Client(), r.Subscriber()))
	srv := httptest.NewServer(monitorRoutes(r, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Remote   string                 `json:"remote"`
		Running  bool                   `json:"running"`
		Subjects []string               `json:"subjects"`
		Client   map[string]interface{} `json:"client"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Running)
	assert.Equal(t, r.Remote().String(), st.Remote)
	assert.Equal(t, []string{chassis.SubjectStatus}, st.Subjects)
	assert.Contains(t, st.Client, "sent")

	resp2, err := http.Get(srv.URL + "/subjects/sa_status")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	resp3, err := http.Get(srv.URL + "/subjects/nothing")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)

	resp4, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp4.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp4.Body)
	assert.Contains(t, body.String(), "rmlink_frames_sent_total")
}
