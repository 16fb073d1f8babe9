package dispatch

import (
	"strings"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Backend names an implementation tier.
type Backend string

const (
	// Device runs the accelerated implementation on an offload device.
	Device Backend = "device"
	// Host runs the accelerated implementation on the host CPU.
	Host Backend = "host"
	// Reference runs the estimator's own implementation.
	Reference Backend = "reference"
)

// Accelerated reports whether b is one of the accelerated tiers.
func (b Backend) Accelerated() bool {
	return b == Device || b == Host
}

// ParseBackend parses a backend name. "cpu" and "gpu" are accepted aliases.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "gpu":
		return Device, nil
	case "host", "cpu":
		return Host, nil
	case "reference", "sklearn", "original":
		return Reference, nil
	default:
		return "", scigoerrors.NewConfigurationErrorf("dispatch", "unknown backend %q", s)
	}
}

// Policy is the order in which backends are tried. Reference is always last.
type Policy struct {
	order []Backend
}

// DefaultPolicy tries device, then host, then reference.
func DefaultPolicy() Policy {
	return Policy{order: []Backend{Device, Host, Reference}}
}

// NewPolicy builds a policy from accelerated backends in priority order.
// Reference is appended when absent and must be last when present.
func NewPolicy(order ...Backend) (Policy, error) {
	seen := make(map[Backend]bool, len(order)+1)
	out := make([]Backend, 0, len(order)+1)
	for i, b := range order {
		switch b {
		case Device, Host:
		case Reference:
			if i != len(order)-1 {
				return Policy{}, scigoerrors.NewConfigurationError("dispatch", "reference backend must be last")
			}
		default:
			return Policy{}, scigoerrors.NewConfigurationErrorf("dispatch", "unknown backend %q", b)
		}
		if seen[b] {
			return Policy{}, scigoerrors.NewConfigurationErrorf("dispatch", "backend %q listed twice", b)
		}
		seen[b] = true
		out = append(out, b)
	}
	if !seen[Reference] {
		out = append(out, Reference)
	}
	return Policy{order: out}, nil
}

// ParsePolicy is NewPolicy over backend names.
func ParsePolicy(names []string) (Policy, error) {
	order := make([]Backend, 0, len(names))
	for _, n := range names {
		b, err := ParseBackend(n)
		if err != nil {
			return Policy{}, err
		}
		order = append(order, b)
	}
	return NewPolicy(order...)
}

// Order returns the backends in priority order.
func (p Policy) Order() []Backend {
	if len(p.order) == 0 {
		return DefaultPolicy().Order()
	}
	out := make([]Backend, len(p.order))
	copy(out, p.order)
	return out
}

func (p Policy) String() string {
	order := p.Order()
	names := make([]string, len(order))
	for i, b := range order {
		names[i] = string(b)
	}
	return strings.Join(names, " > ")
}
