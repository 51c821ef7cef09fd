package protocol

import (
	"sort"
	"sync"

	"github.com/juju/errors"
)

type Descriptor struct {
	Key  Key
	Name string
	// Ack is request ack requirement. Push type commands use AckNone.
	Ack AckMode
	New func() Proto
}

type Registry struct {
	mu sync.RWMutex
	m  map[Key]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[Key]Descriptor)}
}

func (r *Registry) Register(d Descriptor) error {
	if d.New == nil {
		return errors.NotValidf("code error proto=%s New=nil", d.Key)
	}
	if k := d.New().Key(); k != d.Key {
		return errors.NotValidf("code error proto=%s New().Key()=%s", d.Key, k)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok := r.m[d.Key]; ok {
		return errors.AlreadyExistsf("proto key=%s name=%s registered by=%s", d.Key, d.Name, ex.Name)
	}
	r.m[d.Key] = d
	return nil
}

// MustRegister panics on duplicate, use at init.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(errors.ErrorStack(err))
		}
	}
}

func (r *Registry) Lookup(k Key) (Descriptor, bool) {
	r.mu.RLock()
	d, ok := r.m[k]
	r.mu.RUnlock()
	return d, ok
}

func (r *Registry) Keys() []Key {
	r.mu.RLock()
	ks := make([]Key, 0, len(r.m))
	for k := range r.m {
		ks = append(ks, k)
	}
	r.mu.RUnlock()
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// NewRequest encodes p into message with registered ack requirement.
func (r *Registry) NewRequest(sender, receiver Addr, p Proto) (*Message, error) {
	k := p.Key()
	d, ok := r.Lookup(k)
	if !ok {
		return nil, errors.NotFoundf("proto key=%s", k)
	}
	data, err := p.MarshalRequest()
	if err != nil {
		return nil, errors.Annotatef(err, "proto=%s marshal", d.Name)
	}
	return &Message{
		Sender:   sender,
		Receiver: receiver,
		NeedAck:  d.Ack,
		CmdSet:   k.CmdSet(),
		CmdID:    k.CmdID(),
		Data:     data,
		Proto:    p,
	}, nil
}

// Decode fills m.Proto from m.Data: ack frames decode response side, others request side.
// Unknown key is not an error, m.Proto stays nil.
func (r *Registry) Decode(m *Message) error {
	d, ok := r.Lookup(m.Key())
	if !ok {
		m.Proto = nil
		return nil
	}
	p := d.New()
	var err error
	if m.IsAck {
		err = p.UnmarshalResponse(m.Data)
	} else {
		err = p.UnmarshalRequest(m.Data)
	}
	if err != nil {
		m.Proto = nil
		return errors.Annotatef(err, "proto=%s decode", d.Name)
	}
	m.Proto = p
	return nil
}

// Default is populated by this package and command packages at init.
var Default = NewRegistry()

func init() {
	RegisterSDK(Default)
	RegisterSub(Default)
	RegisterInfo(Default)
}
