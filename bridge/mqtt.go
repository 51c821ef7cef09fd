package bridge

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/rmlink/log2"
)

const DefaultNetworkTimeout = 5 * time.Second

type MQTTOptions struct {
	Log      *log2.Log
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
	LogDebug bool
	// NewClient is replaced in tests.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type MQTTPublisher struct {
	log     *log2.Log
	m       mqtt.Client
	timeout time.Duration
}

// NewMQTT connects to broker, reconnects are automatic afterwards.
func NewMQTT(opt MQTTOptions) (*MQTTPublisher, error) {
	if opt.Timeout < time.Second {
		opt.Timeout = DefaultNetworkTimeout
	}
	if opt.ClientID == "" {
		opt.ClientID = "rmlink-" + uuid.New().String()
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	mqttLog := opt.Log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if opt.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetConnectTimeout(opt.Timeout).
		SetKeepAlive(opt.Timeout * 2).
		SetMaxReconnectInterval(opt.Timeout * 3).
		SetOrderMatters(false).
		SetPingTimeout(opt.Timeout).
		SetWriteTimeout(opt.Timeout)
	if opt.Username != "" {
		mopt.SetUsername(opt.Username).SetPassword(opt.Password)
	}
	p := &MQTTPublisher{log: opt.Log, m: opt.NewClient(mopt), timeout: opt.Timeout}
	if err := p.tokenWait(p.m.Connect(), "connect "+opt.Broker); err != nil {
		return nil, err
	}
	p.log.Infof("bridge: mqtt connected broker=%s client=%s", opt.Broker, opt.ClientID)
	return p, nil
}

func (p *MQTTPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return p.tokenWait(p.m.Publish(topic, qos, retained, payload), "publish "+topic)
}

func (p *MQTTPublisher) Close() {
	p.m.Disconnect(uint(p.timeout / time.Millisecond))
}

func (p *MQTTPublisher) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(p.timeout) {
		return errors.Timeoutf("mqtt %s", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "mqtt %s", tag)
	}
	return nil
}
