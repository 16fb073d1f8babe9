// Package device provides the execution contexts accelerated estimators run
// on: the host CPU and, when a native accelerator library is available, one
// or more offload devices.
//
// A Queue is handed to every accelerated implementation. Host queues run the
// kernels in-process using SIMD vector routines and a goroutine pool; device
// queues forward the same kernels to the native driver.
package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigoex/pkg/version"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Kind distinguishes host and device execution.
type Kind int

const (
	KindHost Kind = iota
	KindDevice
)

func (k Kind) String() string {
	if k == KindDevice {
		return "device"
	}
	return "host"
}

// Info describes an execution resource.
type Info struct {
	ID     int
	Name   string
	Vendor string
	Kind   Kind

	// MemoryBytes is the usable memory. 0 means no limit is reported.
	MemoryBytes uint64

	// Float64 reports native double precision support.
	Float64 bool

	Features []string
}

func (i Info) String() string {
	if i.Kind == KindHost {
		return "host (" + i.Name + ")"
	}
	return fmt.Sprintf("device:%d (%s)", i.ID, i.Name)
}

// Driver is a native accelerator runtime. Buffers are row-major float64.
type Driver interface {
	Name() string
	Version() version.Version
	Devices() ([]Info, error)

	// PairwiseSqDist writes the n x k squared euclidean distances between the
	// rows of x (n x d) and c (k x d) into out.
	PairwiseSqDist(id int, x []float64, n, d int, c []float64, k int, out []float64) error

	// Gram writes the d x d matrix x^T x of x (n x d) into out.
	Gram(id int, x []float64, n, d int, out []float64) error

	Close() error
}

// TargetKind selects where accelerated work is offloaded.
type TargetKind int

const (
	// TargetAuto lets the dispatch policy choose.
	TargetAuto TargetKind = iota
	// TargetHost forbids device offload.
	TargetHost
	// TargetDevice requires device offload.
	TargetDevice
)

// Target is a parsed target_offload setting.
type Target struct {
	Kind TargetKind
	// ID is the requested device, or -1 for the configured default.
	ID int
}

// AutoTarget is the default target.
var AutoTarget = Target{Kind: TargetAuto, ID: -1}

// ParseTarget parses "auto", "host", "cpu", "device", "gpu", "device:N" or "gpu:N".
func ParseTarget(s string) (Target, error) {
	kind, idStr, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	t := Target{ID: -1}
	switch kind {
	case "", "auto":
		t.Kind = TargetAuto
	case "host", "cpu":
		t.Kind = TargetHost
	case "device", "gpu":
		t.Kind = TargetDevice
	default:
		return AutoTarget, scigoerrors.NewConfigurationErrorf("target_offload", "unknown target %q", s)
	}
	if hasID {
		if t.Kind != TargetDevice {
			return AutoTarget, scigoerrors.NewConfigurationErrorf("target_offload", "%q does not take a device index", kind)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 {
			return AutoTarget, scigoerrors.NewConfigurationErrorf("target_offload", "invalid device index %q", idStr)
		}
		t.ID = id
	}
	return t, nil
}

func (t Target) String() string {
	switch t.Kind {
	case TargetHost:
		return "host"
	case TargetDevice:
		if t.ID >= 0 {
			return "device:" + strconv.Itoa(t.ID)
		}
		return "device"
	default:
		return "auto"
	}
}

type targetKey struct{}

// WithTarget returns a context that overrides the dispatcher's target for
// calls made with it.
func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

// TargetFromContext returns the target stored by WithTarget.
func TargetFromContext(ctx context.Context) (Target, bool) {
	if ctx == nil {
		return AutoTarget, false
	}
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}
