package scigoex

import (
	"sync"

	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches/kmeans"
	"github.com/YuminosukeSato/scigoex/patches/minmax"
	"github.com/YuminosukeSato/scigoex/patches/pca"
	"github.com/YuminosukeSato/scigoex/patches/scaler"
	"github.com/YuminosukeSato/scigoex/pkg/config"
	"github.com/YuminosukeSato/scigoex/pkg/log"
	"github.com/YuminosukeSato/scigoex/pkg/version"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Runtime bundles the components built from a Config. Method slots are
// process-wide, so only one Runtime can have a given key patched at a time;
// a second Apply of the same key fails with ErrAlreadyPatched.
type Runtime struct {
	Config     *config.Config
	Devices    *device.Manager
	Dispatcher *dispatch.Dispatcher
	Registry   *patch.Registry
	Features   version.Info

	logger    log.Logger
	closeOnce sync.Once
}

// Option configures New.
type Option func(*options)

type options struct {
	driver device.Driver
	logger log.Logger
}

// WithDriver uses d instead of loading the native driver library.
func WithDriver(d device.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New validates cfg and builds the device manager, dispatcher and patch
// registry. A nil cfg means config.Default(). Patches are registered but not
// applied.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("scigoex")
	}

	var minVersion version.Version
	if cfg.Device.MinVersion != "" {
		v, err := version.Parse(cfg.Device.MinVersion)
		if err != nil {
			return nil, scigoerrors.NewConfigurationErrorf("config", "device.min_version: %v", err)
		}
		minVersion = v
	}
	policy, err := dispatch.ParsePolicy(cfg.Dispatch.Order)
	if err != nil {
		return nil, err
	}
	target, err := device.ParseTarget(cfg.Dispatch.TargetOffload)
	if err != nil {
		return nil, err
	}

	devOpts := []device.Option{device.WithLogger(o.logger.With(log.ComponentKey, "device"))}
	if o.driver != nil {
		devOpts = append(devOpts, device.WithDriver(o.driver))
	}
	devices, err := device.NewManager(device.Config{
		Enabled:         cfg.Device.Enabled,
		Library:         cfg.Device.Library,
		DeviceID:        cfg.Device.DeviceID,
		FallbackOnError: cfg.Device.FallbackOnError,
		MinVersion:      minVersion,
	}, devOpts...)
	if err != nil {
		return nil, err
	}

	runtimeVersion := version.Builtin
	if v := devices.DriverVersion(); !v.IsZero() {
		runtimeVersion = v
	}
	features := version.Detect(runtimeVersion)

	d := dispatch.New(
		dispatch.WithPolicy(policy),
		dispatch.WithDevices(devices),
		dispatch.WithTarget(target),
		dispatch.WithAllowFallbackToHost(cfg.Dispatch.AllowFallbackToHost),
		dispatch.WithVerbose(cfg.Dispatch.Verbose),
		dispatch.WithDefaultNJobs(cfg.Parallel.NJobs),
		dispatch.WithLogger(o.logger.With(log.ComponentKey, "dispatch")),
	)

	registry := patch.NewRegistry(patch.WithLogger(o.logger.With(log.ComponentKey, "patch")))
	if err := registry.Register(PatchMap(d, features)...); err != nil {
		_ = devices.Close()
		return nil, err
	}

	o.logger.Debug("runtime ready",
		"runtime.version", runtimeVersion.String(),
		"dispatch.policy", policy.String(),
		log.DispatchTargetKey, target.String(),
		"patch.count", registry.Len(),
	)
	return &Runtime{
		Config:     cfg,
		Devices:    devices,
		Dispatcher: d,
		Registry:   registry,
		Features:   features,
		logger:     o.logger,
	}, nil
}

// PatchMap returns every patch entry, routed through d.
func PatchMap(d *dispatch.Dispatcher, info version.Info) []patch.Patchable {
	var entries []patch.Patchable
	entries = append(entries, kmeans.Entries(d, info)...)
	entries = append(entries, minmax.Entries(d, info)...)
	entries = append(entries, pca.Entries(d, info)...)
	entries = append(entries, scaler.Entries(d, info)...)
	return entries
}

// Patch applies keys, or every registered key when none are given.
func (r *Runtime) Patch(keys ...patch.Key) ([]patch.Change, error) {
	return r.Registry.Apply(keys...)
}

// Unpatch reverts keys, or every patched key when none are given.
func (r *Runtime) Unpatch(keys ...patch.Key) ([]patch.Change, error) {
	return r.Registry.Revert(keys...)
}

// Close reverts every patch and releases the device driver.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if _, rerr := r.Registry.Revert(); rerr != nil {
			err = rerr
		}
		if cerr := r.Devices.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
