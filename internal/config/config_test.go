package config

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/rmlink/bootstrap"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/log2"
)

func TestRead(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		sources   map[string]string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", map[string]string{"main": ""}, func(t testing.TB, c *Config) {
			opt, err := c.RobotOptions(nil)
			require.NoError(t, err)
			assert.Equal(t, bootstrap.DefaultDevice.String(), opt.Bootstrap.Device.String())
			assert.Equal(t, bootstrap.DefaultTimeout, opt.Bootstrap.Timeout)
			assert.Equal(t, client.DefaultSyncTimeout, opt.Client.SyncTimeout)
			assert.Equal(t, client.DefaultHeartbeatInterval, opt.Client.HeartbeatInterval)
			assert.Equal(t, DefaultMQTTBroker, c.MQTTBroker())
			assert.Equal(t, DefaultMonitorListen, c.MonitorListen())
		}, ""},

		{"robot", map[string]string{"main": `
robot {
	host = "10.0.0.5"
	bootstrap_port = 20021
	session_port = 20030
	local_port_min = 11000
	local_port_max = 11010
	sync_timeout_sec = 7
	heartbeat_interval_ms = 250
}
telemetry { workers = 4 }`}, func(t testing.TB, c *Config) {
			opt, err := c.RobotOptions(nil)
			require.NoError(t, err)
			assert.Equal(t, "10.0.0.5:20021", opt.Bootstrap.Device.String())
			assert.Equal(t, "10.0.0.5:20030", opt.Bootstrap.Session.String())
			assert.Equal(t, 11000, opt.Bootstrap.PortMin)
			assert.Equal(t, 11010, opt.Bootstrap.PortMax)
			assert.Equal(t, 7*time.Second, opt.Client.SyncTimeout)
			assert.Equal(t, 250*time.Millisecond, opt.Client.HeartbeatInterval)
			assert.Equal(t, 4, opt.Telemetry.Workers)
		}, ""},

		{"include", map[string]string{
			"main":  `include "local" {} monitor { listen = ":9200" }`,
			"local": `mqtt { enable = true broker = "tcp://a:1883" topic_prefix = "bot1" encoding = "cbor" }`,
		}, func(t testing.TB, c *Config) {
			assert.Equal(t, ":9200", c.MonitorListen())
			assert.True(t, c.MQTT.Enable)
			assert.Equal(t, "tcp://a:1883", c.MQTTBroker())
			assert.Equal(t, "bot1", c.MQTTTopicPrefix())
			assert.Equal(t, "cbor", c.MQTT.Encoding)
		}, ""},

		{"include-optional", map[string]string{
			"main": `include "missing" { optional = true } monitor { listen = "127.0.0.1:9000" }`,
		}, func(t testing.TB, c *Config) {
			assert.Equal(t, "127.0.0.1:9000", c.MonitorListen())
		}, ""},

		{"include-required", map[string]string{"main": `include "missing" {}`}, nil,
			"config required name=missing"},

		{"include-loop", map[string]string{
			"main":  `include "other" {}`,
			"other": `include "main" {}`,
		}, nil, "config include loop: from=other include=main"},

		{"syntax", map[string]string{"main": `robot {`}, nil, "config unmarshal source=main"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := Read(log, NewMockFullReader(c.sources), "main")
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err, errors.ErrorStack(err))
			c.check(t, cfg)
		})
	}
}

func TestRobotOptionsInvalid(t *testing.T) {
	t.Parallel()
	c := &Config{}
	c.Robot.Host = "robot.local"
	_, err := c.RobotOptions(nil)
	assert.True(t, errors.IsNotValid(err))

	c = &Config{}
	c.Robot.Proto = "tcp"
	_, err = c.RobotOptions(nil)
	assert.True(t, errors.IsNotSupported(err))
}

func TestReadMissingMain(t *testing.T) {
	t.Parallel()
	_, err := Read(log2.NewTest(t, log2.LDebug), NewMockFullReader(nil), "main")
	assert.True(t, errors.IsNotFound(err))
}
