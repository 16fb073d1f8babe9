// Package dispatch decides, per call, which implementation of an estimator
// method runs: an accelerated backend (device or host) or the estimator's
// reference implementation.
//
// Backends are tried in Policy order. The first accelerated backend whose
// capability predicate passes runs; when none passes, the reference
// implementation runs. Exactly one implementation executes per call, and
// errors from it are returned unchanged; there is no retry on another backend.
package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/parallel"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/pkg/log"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Args are the call arguments a predicate inspects.
type Args struct {
	X            mat.Matrix
	Y            mat.Matrix
	SampleWeight []float64
}

// Func is one implementation of an estimator method. Accelerated
// implementations receive the queue chosen by the dispatcher; reference
// implementations receive nil. Methods without an array result return nil.
type Func func(ctx context.Context, q *device.Queue, args Args) (mat.Matrix, error)

// Implementations are the callables available for one dispatched call.
type Implementations struct {
	Accelerated Func
	Reference   Func
}

// Estimator is the capability interface the dispatcher queries.
type Estimator interface {
	// Name is the estimator type name, e.g. "KMeans".
	Name() string

	// Methods lists the method names with registered predicates.
	Methods() []string

	// Supported evaluates the predicate for an accelerated backend. It must
	// not mutate the estimator and returns a DispatchInternalError for a
	// method not listed by Methods.
	Supported(backend Backend, method string, args Args) (*Chain, error)

	// NJobs is the estimator's n_jobs setting, 0 when unset.
	NJobs() int
}

// Evaluation records how one backend was judged.
type Evaluation struct {
	Backend Backend
	// Chain is nil when the backend was skipped without evaluation.
	Chain *Chain
	// Skipped explains why a backend was not evaluated.
	Skipped string
}

// Decision is the outcome of backend selection for one call.
type Decision struct {
	Scope       string
	Method      string
	Backend     Backend
	Queue       *device.Queue
	Target      device.Target
	Evaluations []Evaluation
}

// Accelerated reports whether an accelerated backend was selected.
func (d Decision) Accelerated() bool { return d.Backend.Accelerated() }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the backend order.
func WithPolicy(p Policy) Option { return func(d *Dispatcher) { d.policy = p } }

// WithDevices sets the device manager. Without one only the host is available.
func WithDevices(m *device.Manager) Option { return func(d *Dispatcher) { d.devices = m } }

// WithTarget sets the default offload target.
func WithTarget(t device.Target) Option { return func(d *Dispatcher) { d.target = t } }

// WithAllowFallbackToHost lets an explicit device target fall back to host
// and reference implementations.
func WithAllowFallbackToHost(allow bool) Option {
	return func(d *Dispatcher) { d.allowFallbackToHost = allow }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l log.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithVerbose logs decisions at info instead of debug level.
func WithVerbose(v bool) Option { return func(d *Dispatcher) { d.verbose = v } }

// WithDefaultNJobs sets the worker count for estimators that leave n_jobs unset.
func WithDefaultNJobs(n int) Option { return func(d *Dispatcher) { d.defaultNJobs = n } }

// Stats counts executed calls per backend.
type Stats struct {
	Device    int64
	Host      int64
	Reference int64
	Errors    int64
}

// Dispatcher selects and runs implementations. It is safe for concurrent use.
type Dispatcher struct {
	policy              Policy
	devices             *device.Manager
	target              device.Target
	allowFallbackToHost bool
	logger              log.Logger
	verbose             bool
	defaultNJobs        int

	nDevice, nHost, nReference, nErrors atomic.Int64
}

// New creates a Dispatcher with the default policy, auto target and host
// fallback allowed.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		policy:              DefaultPolicy(),
		target:              device.AutoTarget,
		allowFallbackToHost: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.GetLoggerWithName("dispatch")
	}
	return d
}

// Policy returns the backend order.
func (d *Dispatcher) Policy() Policy { return d.policy }

// Devices returns the device manager, nil when host-only.
func (d *Dispatcher) Devices() *device.Manager { return d.devices }

// Stats returns a snapshot of the call counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Device:    d.nDevice.Load(),
		Host:      d.nHost.Load(),
		Reference: d.nReference.Load(),
		Errors:    d.nErrors.Load(),
	}
}

// Decide selects a backend without running anything. For a given estimator
// configuration, input and device set it always returns the same decision.
func (d *Dispatcher) Decide(ctx context.Context, est Estimator, method string, args Args) (Decision, error) {
	return d.decide(ctx, est, method, args, true)
}

func (d *Dispatcher) decide(ctx context.Context, est Estimator, method string, args Args, hasAccelerated bool) (Decision, error) {
	scope := est.Name() + "." + method
	if !slices.Contains(est.Methods(), method) {
		return Decision{}, scigoerrors.NewDispatchInternalError(est.Name(), method)
	}

	target := d.target
	if t, ok := device.TargetFromContext(ctx); ok {
		target = t
	}
	dec := Decision{Scope: scope, Method: method, Target: target}
	strictDevice := target.Kind == device.TargetDevice && !d.allowFallbackToHost

	for _, b := range d.policy.Order() {
		switch {
		case b == Reference:
			if strictDevice {
				dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b, Skipped: "target_offload=" + target.String() + " forbids host fallback"})
				continue
			}
			dec.Backend = Reference
			dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b})
			return dec, nil
		case !hasAccelerated:
			dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b, Skipped: "no accelerated implementation"})
			continue
		case b == Device && target.Kind == device.TargetHost:
			dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b, Skipped: "target_offload=host"})
			continue
		case b == Host && strictDevice:
			dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b, Skipped: "target_offload=" + target.String() + " forbids host fallback"})
			continue
		}

		chain, err := est.Supported(b, method, args)
		if err != nil {
			return Decision{}, err
		}
		if chain == nil {
			chain = NewChain(scope)
		}

		var q *device.Queue
		if b == Device {
			q = d.deviceConditions(chain, target, args)
		} else {
			q = d.hostQueue(est)
		}
		dec.Evaluations = append(dec.Evaluations, Evaluation{Backend: b, Chain: chain})
		if chain.Supported() {
			dec.Backend = b
			dec.Queue = q
			return dec, nil
		}
	}

	return dec, scigoerrors.NewConfigurationErrorf(scope,
		"no backend can run this call with target_offload=%s and allow_fallback_to_host=%t", target, d.allowFallbackToHost)
}

// deviceConditions appends the checks only the dispatcher can make and
// returns the queue for the selected device, nil when there is none.
func (d *Dispatcher) deviceConditions(chain *Chain, target device.Target, args Args) *device.Queue {
	var (
		info device.Info
		ok   bool
	)
	if d.devices != nil {
		info, ok = d.devices.Device(target.ID)
	}
	if !ok {
		chain.And(false, "a device is available")
		return nil
	}
	chain.And(true, "a device is available")
	chain.And(info.Float64 || data.DTypeOf(args.X) == data.Float32, "device supports double precision or input is float32")

	fits := true
	if args.X != nil && info.MemoryBytes > 0 {
		r, c := args.X.Dims()
		elem := uint64(8)
		if data.DTypeOf(args.X) == data.Float32 {
			elem = 4
		}
		fits = uint64(r)*uint64(c)*elem <= info.MemoryBytes
	}
	chain.And(fits, "input fits in device memory")

	q, err := d.devices.DeviceQueue(info.ID)
	if err != nil {
		return nil
	}
	return q
}

func (d *Dispatcher) hostQueue(est Estimator) *device.Queue {
	threads := parallel.Resolve(est.NJobs(), d.defaultNJobs)
	if d.devices != nil {
		return d.devices.HostQueue(threads)
	}
	return device.NewHostQueue(threads)
}

// Dispatch selects a backend for method and runs exactly one implementation.
// Accelerated results are converted back to the element type of args.X.
func (d *Dispatcher) Dispatch(ctx context.Context, est Estimator, method string, impls Implementations, args Args) (out mat.Matrix, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dec, err := d.decide(ctx, est, method, args, impls.Accelerated != nil)
	if err != nil {
		d.nErrors.Add(1)
		return nil, err
	}
	d.logDecision(ctx, est, dec, args)

	if dec.Backend == Reference {
		if impls.Reference == nil {
			d.nErrors.Add(1)
			return nil, scigoerrors.NewConfigurationError(dec.Scope, "no accelerated backend supports this call and there is no reference implementation")
		}
		d.nReference.Add(1)
		return impls.Reference(ctx, nil, args)
	}

	if dec.Backend == Device {
		d.nDevice.Add(1)
	} else {
		d.nHost.Add(1)
		d.logger.Debug(fmt.Sprintf("%s: setting %d threads", dec.Scope, dec.Queue.Threads()),
			log.ThreadsKey, dec.Queue.Threads())
	}

	start := time.Now()
	err = scigoerrors.SafeExecute(dec.Scope+"["+string(dec.Backend)+"]", func() error {
		var runErr error
		out, runErr = impls.Accelerated(ctx, dec.Queue, args)
		return runErr
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		d.logger.Debug(dec.Scope+": accelerated version failed", err,
			log.DispatchBackendKey, string(dec.Backend),
			log.DurationMsKey, elapsed,
		)
		return nil, err
	}
	d.logger.Debug(dec.Scope+": accelerated version finished",
		log.DispatchBackendKey, string(dec.Backend),
		log.DurationMsKey, elapsed,
	)
	return data.WrapLike(args.X, out), nil
}

func (d *Dispatcher) logDecision(ctx context.Context, est Estimator, dec Decision, args Args) {
	level := log.LevelDebug
	if d.verbose {
		level = log.LevelInfo
	}
	if !d.logger.Enabled(ctx, level) {
		return
	}

	for _, ev := range dec.Evaluations {
		if ev.Chain == nil {
			continue
		}
		for _, c := range ev.Chain.Failed() {
			d.logger.Debug(fmt.Sprintf("%s[%s]: %s", dec.Scope, ev.Backend, c),
				log.DispatchBackendKey, string(ev.Backend),
				log.DispatchConditionsKey, ev.Chain.String())
		}
	}

	var msg string
	if dec.Backend == Reference {
		msg = dec.Scope + ": running reference implementation"
	} else {
		msg = fmt.Sprintf("%s: running accelerated version on %s", dec.Scope, dec.Queue)
	}
	fields := []any{
		log.ModelNameKey, est.Name(),
		log.DispatchScopeKey, dec.Scope,
		log.DispatchBackendKey, string(dec.Backend),
		log.DispatchMethodKey, dec.Method,
		log.DispatchTargetKey, dec.Target.String(),
	}
	if args.X != nil {
		n, f := args.X.Dims()
		fields = append(fields,
			log.SamplesKey, n,
			log.FeaturesKey, f,
			log.DataTypeKey, data.DTypeOf(args.X).String(),
			log.SparseKey, data.IsSparse(args.X),
		)
	}
	if level == log.LevelInfo {
		d.logger.Info(msg, fields...)
	} else {
		d.logger.Debug(msg, fields...)
	}
}
