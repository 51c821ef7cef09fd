// Package config reads rmlink HCL configuration with include support.
package config

import (
	"net"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/rmlink/bootstrap"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/robot"
	"github.com/temoto/rmlink/telemetry"
)

const (
	DefaultMQTTBroker      = "tcp://localhost:1883"
	DefaultMQTTTopicPrefix = "rmlink"
	DefaultMonitorListen   = ":9101"
)

type Config struct {
	includeSeen map[string]struct{}
	XXX_Include []Source `hcl:"include"`

	Robot struct {
		Host                string `hcl:"host"`
		BootstrapPort       int    `hcl:"bootstrap_port"`
		SessionPort         int    `hcl:"session_port"`
		Proto               string `hcl:"proto"`
		LocalPortMin        int    `hcl:"local_port_min"`
		LocalPortMax        int    `hcl:"local_port_max"`
		BootstrapTimeoutSec int    `hcl:"bootstrap_timeout_sec"`
		BootstrapRetries    int    `hcl:"bootstrap_retries"`
		SyncTimeoutSec      int    `hcl:"sync_timeout_sec"`
		HeartbeatIntervalMs int    `hcl:"heartbeat_interval_ms"`
		LogDebug            bool   `hcl:"log_debug"`
	}

	Telemetry struct {
		Workers int `hcl:"workers"`
		Queue   int `hcl:"queue"`
	}

	MQTT struct {
		Enable      bool   `hcl:"enable"`
		Broker      string `hcl:"broker"`
		ClientID    string `hcl:"client_id"`
		Username    string `hcl:"username"`
		Password    string `hcl:"password"`
		TopicPrefix string `hcl:"topic_prefix"`
		Encoding    string `hcl:"encoding"`
		QoS         int    `hcl:"qos"`
		TimeoutSec  int    `hcl:"timeout_sec"`
		// Subjects forwarded by monitor, default position attitude sa_status.
		Subjects []string `hcl:"subjects"`
		Freq     int      `hcl:"freq"`
	} `hcl:"mqtt"`

	Monitor struct {
		Listen string `hcl:"listen"`
	}
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read merges named sources in order, later values win.
// With OsFullReader relative includes resolve against directory of the first name.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("code error config.Read() without names")
	}
	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if dir != "" {
			osfs.SetBase(dir)
		}
		names = append([]string{name}, names[1:]...)
	}
	c := &Config{includeSeen: make(map[string]struct{})}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// RobotOptions maps config onto facade options, zero values keep package defaults.
func (c *Config) RobotOptions(log *log2.Log) (robot.Options, error) {
	opt := robot.Options{Log: log, Retries: c.Robot.BootstrapRetries}
	addr := bootstrap.DefaultDevice
	if c.Robot.Host != "" {
		ip := net.ParseIP(c.Robot.Host)
		if ip == nil {
			return opt, errors.NotValidf("config robot.host=%s", c.Robot.Host)
		}
		addr = &net.UDPAddr{IP: ip, Port: addr.Port}
	}
	device := &net.UDPAddr{IP: addr.IP, Port: addr.Port}
	if c.Robot.BootstrapPort != 0 {
		device.Port = c.Robot.BootstrapPort
	}
	session := &net.UDPAddr{IP: addr.IP, Port: device.Port}
	if c.Robot.SessionPort != 0 {
		session.Port = c.Robot.SessionPort
	}
	switch c.Robot.Proto {
	case "", "udp":
		opt.Bootstrap.Protocol = protocol.ProtocolUDP
	default:
		return opt, errors.NotSupportedf("config robot.proto=%s", c.Robot.Proto)
	}
	opt.Bootstrap.Device = device
	opt.Bootstrap.Session = session
	opt.Bootstrap.PortMin = c.Robot.LocalPortMin
	opt.Bootstrap.PortMax = c.Robot.LocalPortMax
	opt.Bootstrap.Timeout = helpers.IntSecondDefault(c.Robot.BootstrapTimeoutSec, bootstrap.DefaultTimeout)
	opt.Client = client.Options{
		SyncTimeout:       helpers.IntSecondDefault(c.Robot.SyncTimeoutSec, client.DefaultSyncTimeout),
		HeartbeatInterval: helpers.IntMillisecondDefault(c.Robot.HeartbeatIntervalMs, client.DefaultHeartbeatInterval),
	}
	opt.Telemetry = telemetry.Options{
		Workers: c.Telemetry.Workers,
		Queue:   c.Telemetry.Queue,
	}
	return opt, nil
}

func (c *Config) MQTTBroker() string {
	if c.MQTT.Broker == "" {
		return DefaultMQTTBroker
	}
	return c.MQTT.Broker
}

func (c *Config) MQTTTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return DefaultMQTTTopicPrefix
	}
	return c.MQTT.TopicPrefix
}

func (c *Config) MQTTTimeout() time.Duration {
	return helpers.IntSecondDefault(c.MQTT.TimeoutSec, 5*time.Second)
}

func (c *Config) MQTTSubjects() []string {
	if len(c.MQTT.Subjects) == 0 {
		return []string{"position", "attitude", "sa_status"}
	}
	return c.MQTT.Subjects
}

func (c *Config) MonitorListen() string {
	if c.Monitor.Listen == "" {
		return DefaultMonitorListen
	}
	return c.Monitor.Listen
}
