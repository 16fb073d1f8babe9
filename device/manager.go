package device

import (
	"sync"

	"github.com/YuminosukeSato/scigoex/pkg/log"
	"github.com/YuminosukeSato/scigoex/pkg/version"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Config controls device discovery.
type Config struct {
	// Enabled loads the native driver from Library.
	Enabled bool
	Library string

	// DeviceID is used when a device target does not name one.
	DeviceID int

	// FallbackOnError keeps the manager usable in host-only mode when the
	// driver cannot be loaded or is too old.
	FallbackOnError bool

	// MinVersion is the oldest accepted driver version.
	MinVersion version.Version
}

// Option configures a Manager.
type Option func(*Manager)

// WithDriver uses d instead of loading the native library.
func WithDriver(d Driver) Option {
	return func(m *Manager) { m.driver = d }
}

// WithLogger sets the logger used for discovery diagnostics.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the host description and the devices exposed by the driver.
// All methods are safe for concurrent use after NewManager returns.
type Manager struct {
	config  Config
	host    Info
	driver  Driver
	devices []Info
	logger  log.Logger

	closeOnce sync.Once
}

// NewManager discovers the available devices. With FallbackOnError set the
// manager always succeeds and degrades to host-only.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{config: cfg, host: HostInfo()}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.GetLoggerWithName("device")
	}

	if m.driver == nil && cfg.Enabled {
		d, err := OpenNative(cfg.Library)
		if err != nil {
			return m.fail(err)
		}
		m.driver = d
	}
	if m.driver == nil {
		m.logger.Debug("device offload disabled, using host only", "host.features", m.host.Features)
		return m, nil
	}

	v := m.driver.Version()
	if !cfg.MinVersion.IsZero() && !v.AtLeast(cfg.MinVersion) {
		err := scigoerrors.Wrapf(scigoerrors.ErrDeviceUnavailable,
			"%s driver version %s is older than required %s", m.driver.Name(), v, cfg.MinVersion)
		_ = m.driver.Close()
		m.driver = nil
		return m.fail(err)
	}

	devices, err := m.driver.Devices()
	if err != nil {
		_ = m.driver.Close()
		m.driver = nil
		return m.fail(scigoerrors.Wrap(err, "enumerate devices"))
	}
	for i := range devices {
		devices[i].Kind = KindDevice
		m.logger.Info("device found",
			log.DeviceIDKey, devices[i].ID,
			log.DeviceNameKey, devices[i].Name,
			log.DeviceVendorKey, devices[i].Vendor,
			log.DeviceDriverKey, m.driver.Name(),
			log.DeviceVersionKey, v.String(),
		)
	}
	m.devices = devices
	return m, nil
}

func (m *Manager) fail(err error) (*Manager, error) {
	if m.config.FallbackOnError {
		m.logger.Warn("device unavailable, falling back to host", log.ErrAttrKey, err)
		return m, nil
	}
	return nil, err
}

// Host describes the host CPU.
func (m *Manager) Host() Info { return m.host }

// Devices lists the available devices.
func (m *Manager) Devices() []Info {
	out := make([]Info, len(m.devices))
	copy(out, m.devices)
	return out
}

// HasDevice reports whether at least one device is available.
func (m *Manager) HasDevice() bool { return len(m.devices) > 0 }

// Device looks up a device. id < 0 selects the configured default.
func (m *Manager) Device(id int) (Info, bool) {
	if id < 0 {
		id = m.config.DeviceID
	}
	for _, d := range m.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Info{}, false
}

// DriverName names the loaded driver, "" when host-only.
func (m *Manager) DriverName() string {
	if m.driver == nil {
		return ""
	}
	return m.driver.Name()
}

// DriverVersion is the loaded driver version, zero when host-only.
func (m *Manager) DriverVersion() version.Version {
	if m.driver == nil {
		return version.Version{}
	}
	return m.driver.Version()
}

// HostQueue returns a queue for the host CPU.
func (m *Manager) HostQueue(threads int) *Queue {
	q := NewHostQueue(threads)
	q.info = m.host
	return q
}

// DeviceQueue returns a queue for device id (< 0 for the default device).
func (m *Manager) DeviceQueue(id int) (*Queue, error) {
	info, ok := m.Device(id)
	if !ok {
		return nil, scigoerrors.Wrapf(scigoerrors.ErrDeviceUnavailable, "device %d", id)
	}
	return newDeviceQueue(info, m.driver), nil
}

// Close releases the driver.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.driver != nil {
			err = m.driver.Close()
		}
	})
	return err
}
