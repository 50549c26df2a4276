package work

import (
	"maps"
	"slices"

	"k8s.io/apimachinery/pkg/runtime"
)

// Cloner is implemented by packet values that carry mutable state and must be
// copied when a packet is forked.
type Cloner interface {
	ClonePacketValue() any
}

// Packet is the mutable key/value context passed along a chain.
//
// A packet is owned by the fiber executing it and is not safe for concurrent
// use. Forked children receive their own copy.
type Packet struct {
	values map[string]any
}

// NewPacket creates an empty packet.
func NewPacket() *Packet {
	return &Packet{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (p *Packet) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Put stores value under key, replacing any previous value.
func (p *Packet) Put(key string, value any) {
	p.values[key] = value
}

// Remove deletes key from the packet.
func (p *Packet) Remove(key string) {
	delete(p.values, key)
}

// Len returns the number of entries.
func (p *Packet) Len() int {
	return len(p.values)
}

// Keys returns the packet keys in sorted order.
func (p *Packet) Keys() []string {
	return slices.Sorted(maps.Keys(p.values))
}

// Copy returns a packet with the same entries that can be mutated without
// affecting p. Kubernetes objects are deep copied, Cloner values clone
// themselves, and generic maps and slices are copied recursively. Any other
// value is assumed to be immutable and is shared.
func (p *Packet) Copy() *Packet {
	cp := &Packet{values: make(map[string]any, len(p.values))}
	for k, v := range p.values {
		cp.values[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case runtime.Object:
		return t.DeepCopyObject()
	case Cloner:
		return t.ClonePacketValue()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = copyValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = copyValue(x)
		}
		return s
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Key is a typed packet key. The name must be unique across step libraries.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the underlying packet key.
func (k Key[T]) Name() string {
	return k.name
}

// Get returns the value for k. The second result is false when the key is
// absent or holds a value of another type.
func (k Key[T]) Get(p *Packet) (T, bool) {
	v, ok := p.Get(k.name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// MustGet returns the value for k and panics when it is missing. A panic inside
// a step fails the chain.
func (k Key[T]) MustGet(p *Packet) T {
	v, ok := k.Get(p)
	if !ok {
		panic("packet key " + k.name + " is not set")
	}
	return v
}

// Put stores v under k.
func (k Key[T]) Put(p *Packet, v T) {
	p.Put(k.name, v)
}

// Well-known engine keys.
var (
	// FailureKey holds the terminal failure of a chain.
	FailureKey = NewKey[error]("work.failure")
	// AttemptKey holds the current attempt number, starting at 1.
	AttemptKey = NewKey[int]("work.attempt")
)
