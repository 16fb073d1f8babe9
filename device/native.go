//go:build darwin || freebsd || linux || netbsd

package device

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/YuminosukeSato/scigoex/pkg/version"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Default library names searched when Config.Library is empty.
var nativeLibraryNames = map[string][]string{
	"linux":   {"libsgx.so.2", "libsgx.so"},
	"darwin":  {"libsgx.2.dylib", "libsgx.dylib"},
	"freebsd": {"libsgx.so"},
	"netbsd":  {"libsgx.so"},
}

// nativeDriver calls a C accelerator runtime through purego. The library
// exports:
//
//	int sgx_version(void);
//	int sgx_device_count(void);
//	int sgx_device_info(int id, char *name, int name_len, uint64_t *mem, int *fp64);
//	int sgx_pairwise_sqdist(int id, const double *x, int n, int d, const double *c, int k, double *out);
//	int sgx_gram(int id, const double *x, int n, int d, double *out);
//
// Non-zero return codes are errors.
type nativeDriver struct {
	handle uintptr
	path   string

	mu sync.Mutex // the runtime is not reentrant

	sgxVersion        func() int32
	sgxDeviceCount    func() int32
	sgxDeviceInfo     func(id int32, name *byte, nameLen int32, mem *uint64, fp64 *int32) int32
	sgxPairwiseSqDist func(id int32, x *float64, n, d int32, c *float64, k int32, out *float64) int32
	sgxGram           func(id int32, x *float64, n, d int32, out *float64) int32
}

var nativeSymbols = []string{
	"sgx_version",
	"sgx_device_count",
	"sgx_device_info",
	"sgx_pairwise_sqdist",
	"sgx_gram",
}

// OpenNative loads the accelerator runtime from path, or from the platform
// default names when path is empty.
func OpenNative(path string) (Driver, error) {
	candidates := []string{path}
	if path == "" {
		candidates = nativeLibraryNames[runtime.GOOS]
	}

	var lastErr error
	for _, p := range candidates {
		handle, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_LOCAL)
		if err != nil {
			lastErr = err
			continue
		}
		d, err := bindNative(handle, p)
		if err != nil {
			_ = purego.Dlclose(handle)
			return nil, err
		}
		return d, nil
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, scigoerrors.WithHint(
		scigoerrors.Wrapf(scigoerrors.ErrDeviceUnavailable, "load accelerator runtime: %v", lastErr),
		"set device.library or SCIGOEX_DEVICE_LIBRARY to the runtime's shared library",
	)
}

func bindNative(handle uintptr, path string) (*nativeDriver, error) {
	// RegisterLibFunc panics on missing symbols, so check them first.
	for _, sym := range nativeSymbols {
		if _, err := purego.Dlsym(handle, sym); err != nil {
			return nil, scigoerrors.Wrapf(scigoerrors.ErrDeviceUnavailable, "%s: missing symbol %s", path, sym)
		}
	}
	d := &nativeDriver{handle: handle, path: path}
	purego.RegisterLibFunc(&d.sgxVersion, handle, "sgx_version")
	purego.RegisterLibFunc(&d.sgxDeviceCount, handle, "sgx_device_count")
	purego.RegisterLibFunc(&d.sgxDeviceInfo, handle, "sgx_device_info")
	purego.RegisterLibFunc(&d.sgxPairwiseSqDist, handle, "sgx_pairwise_sqdist")
	purego.RegisterLibFunc(&d.sgxGram, handle, "sgx_gram")
	return d, nil
}

func (d *nativeDriver) Name() string { return "sgx" }

func (d *nativeDriver) Version() version.Version {
	d.mu.Lock()
	defer d.mu.Unlock()
	return version.FromNumeric(int(d.sgxVersion()))
}

func (d *nativeDriver) Devices() ([]Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := int(d.sgxDeviceCount())
	if count < 0 {
		return nil, fmt.Errorf("sgx_device_count returned %d", count)
	}
	devices := make([]Info, 0, count)
	for id := 0; id < count; id++ {
		name := make([]byte, 256)
		var mem uint64
		var fp64 int32
		if rc := d.sgxDeviceInfo(int32(id), &name[0], int32(len(name)), &mem, &fp64); rc != 0 {
			return nil, fmt.Errorf("sgx_device_info(%d) returned %d", id, rc)
		}
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		devices = append(devices, Info{
			ID:          id,
			Name:        string(name),
			Vendor:      "sgx",
			Kind:        KindDevice,
			MemoryBytes: mem,
			Float64:     fp64 != 0,
		})
	}
	return devices, nil
}

func (d *nativeDriver) PairwiseSqDist(id int, x []float64, n, dim int, c []float64, k int, out []float64) error {
	if n == 0 || k == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rc := d.sgxPairwiseSqDist(int32(id), &x[0], int32(n), int32(dim), &c[0], int32(k), &out[0]); rc != 0 {
		return fmt.Errorf("sgx_pairwise_sqdist returned %d", rc)
	}
	return nil
}

func (d *nativeDriver) Gram(id int, x []float64, n, dim int, out []float64) error {
	if n == 0 || dim == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rc := d.sgxGram(int32(id), &x[0], int32(n), int32(dim), &out[0]); rc != 0 {
		return fmt.Errorf("sgx_gram returned %d", rc)
	}
	return nil
}

func (d *nativeDriver) Close() error {
	return purego.Dlclose(d.handle)
}
