package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Mux routes outbound messages to the adapter named by ChatTarget.Platform,
// falling back to the default adapter when the platform is empty.
type Mux struct {
	mu       sync.RWMutex
	def      string
	adapters map[string]Adapter
	order    []string
}

func NewMux(def string, adapters ...Adapter) *Mux {
	m := &Mux{def: strings.ToLower(strings.TrimSpace(def)), adapters: map[string]Adapter{}}
	for _, a := range adapters {
		m.Add(a)
	}
	return m
}

// Add registers a. The first adapter added becomes the default when none was configured.
func (m *Mux) Add(a Adapter) {
	if a == nil {
		return
	}
	name := strings.ToLower(a.Name())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; !ok {
		m.order = append(m.order, name)
	}
	m.adapters[name] = a
	if m.def == "" {
		m.def = name
	}
}

func (m *Mux) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def
}

func (m *Mux) Adapter(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[strings.ToLower(name)]
	return a, ok
}

// Adapters returns the registered adapters in registration order.
func (m *Mux) Adapters() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adapter, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.adapters[n])
	}
	return out
}

func (m *Mux) resolve(platform string) (string, Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name := strings.ToLower(strings.TrimSpace(platform))
	if name == "" {
		name = m.def
	}
	a, ok := m.adapters[name]
	if !ok {
		return "", nil, errors.Wrapf(ErrSinkUnavailable, "no adapter for platform %q", name)
	}
	return name, a, nil
}

func (m *Mux) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	name, a, err := m.resolve(to.Platform)
	if err != nil {
		return MessageRef{}, err
	}
	to.Platform = name
	ref, err := a.SendText(ctx, to, text, opt)
	if err != nil {
		return ref, markSink(err)
	}
	ref.Platform = name
	return ref, nil
}

func (m *Mux) EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error {
	name, a, err := m.resolve(ref.Platform)
	if err != nil {
		return err
	}
	ref.Platform = name
	return markSink(a.EditText(ctx, ref, text, opt))
}

// FormatChannel renders channel with the default adapter's markup, if it has one.
func (m *Mux) FormatChannel(t ChatTarget) string {
	_, a, err := m.resolve(t.Platform)
	if err == nil {
		if f, ok := a.(ChannelFormatter); ok {
			return f.FormatChannel(t.Channel)
		}
	}
	return t.Channel
}

func markSink(err error) error {
	if err == nil || errors.Is(err, ErrSinkUnavailable) {
		return err
	}
	return errors.Mark(err, ErrSinkUnavailable)
}

// ParseDestination splits "<platform>:<channel>" destinations. Anything without
// an alphabetic platform prefix is a channel on the default platform.
func ParseDestination(s string) ChatTarget {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ChatTarget{Channel: s}
	}
	prefix := s[:i]
	for _, r := range prefix {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return ChatTarget{Channel: s}
		}
	}
	return ChatTarget{Platform: strings.ToLower(prefix), Channel: s[i+1:]}
}

// FormatDestination is the inverse of ParseDestination; the platform prefix is
// omitted for the default platform.
func FormatDestination(t ChatTarget, def string) string {
	p := strings.ToLower(strings.TrimSpace(t.Platform))
	if p == "" || p == strings.ToLower(def) {
		return t.Channel
	}
	return p + ":" + t.Channel
}
