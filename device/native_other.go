//go:build !(darwin || freebsd || linux || netbsd)

package device

import (
	"runtime"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// OpenNative is not supported on this platform.
func OpenNative(path string) (Driver, error) {
	return nil, scigoerrors.Wrapf(scigoerrors.ErrDeviceUnavailable, "native accelerator runtime is not supported on %s", runtime.GOOS)
}
