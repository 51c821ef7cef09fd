// Package bridge forwards telemetry samples to a message broker.
package bridge

import (
	"encoding/json"
	"expvar"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"
	"github.com/temoto/rmlink/log2"
)

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"

	DefaultQoS = 1
)

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

type Options struct {
	Log         *log2.Log
	Publisher   Publisher
	TopicPrefix string
	Encoding    string
	// QoS 0 means DefaultQoS.
	QoS byte
	// Now is sample timestamp source, defaults to time.Now.
	Now func() time.Time
}

type Stat struct {
	Published expvar.Int
	Errors    expvar.Int
}

type Bridge struct {
	log    *log2.Log
	opt    Options
	encode func(interface{}) ([]byte, error)
	stat   Stat
}

// Sample is broker payload.
type Sample struct {
	Subject string      `json:"subject" cbor:"subject"`
	Time    int64       `json:"time" cbor:"time"` // unix milliseconds
	Value   interface{} `json:"value" cbor:"value"`
}

func New(opt Options) (*Bridge, error) {
	if opt.Publisher == nil {
		return nil, errors.NotValidf("code error bridge Publisher=nil")
	}
	if opt.QoS == 0 {
		opt.QoS = DefaultQoS
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	b := &Bridge{log: opt.Log, opt: opt}
	switch opt.Encoding {
	case "", EncodingJSON:
		b.encode = json.Marshal
	case EncodingCBOR:
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, errors.Annotate(err, "bridge cbor")
		}
		b.encode = em.Marshal
	default:
		return nil, errors.NotSupportedf("bridge encoding=%s", opt.Encoding)
	}
	return b, nil
}

func (b *Bridge) Stat() *Stat { return &b.stat }

func (b *Bridge) Topic(name string) string {
	if b.opt.TopicPrefix == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", b.opt.TopicPrefix, name)
}

// Send encodes value and publishes it under subject topic. Not retained.
func (b *Bridge) Send(name string, value interface{}) error {
	payload, err := b.encode(Sample{Subject: name, Time: b.opt.Now().UnixMilli(), Value: value})
	if err != nil {
		b.stat.Errors.Add(1)
		return errors.Annotatef(err, "bridge encode subject=%s", name)
	}
	if err = b.opt.Publisher.Publish(b.Topic(name), b.opt.QoS, false, payload); err != nil {
		b.stat.Errors.Add(1)
		return errors.Annotatef(err, "bridge publish subject=%s", name)
	}
	b.stat.Published.Add(1)
	return nil
}

// Forward returns telemetry callback. Publish errors are logged and otherwise ignored.
func (b *Bridge) Forward(name string) func(interface{}) {
	return func(v interface{}) {
		if err := b.Send(name, v); err != nil {
			b.log.Error(err)
		}
	}
}

func (b *Bridge) Close() { b.opt.Publisher.Close() }
