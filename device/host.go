package device

import (
	"runtime"
	"sort"

	"github.com/viterin/vek"
	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"

	"github.com/YuminosukeSato/scigoex/core/parallel"
)

// HostInfo describes the CPU the process runs on.
func HostInfo() Info {
	features := map[string]bool{}
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX2 {
			features["avx2"] = true
		}
		if cpu.X86.HasFMA {
			features["fma"] = true
		}
		if cpu.X86.HasAVX512F {
			features["avx512f"] = true
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features["neon"] = true
		}
		if cpu.ARM64.HasSVE {
			features["sve"] = true
		}
	}
	simd := vek32.Info()
	for _, f := range simd.CPUFeatures {
		features[f] = true
	}
	if simd.Acceleration {
		features["simd"] = true
	}

	list := make([]string, 0, len(features))
	for f := range features {
		list = append(list, f)
	}
	sort.Strings(list)

	return Info{
		ID:       -1,
		Name:     runtime.GOARCH + "/" + runtime.GOOS,
		Vendor:   "host",
		Kind:     KindHost,
		Float64:  true,
		Features: list,
	}
}

// hostPairwiseSqDist computes squared distances with one goroutine per chunk
// of rows.
func hostPairwiseSqDist(x []float64, n, d int, c []float64, k int, out []float64, threads int) {
	parallel.ParallelizeN(n, threads, func(start, end int) {
		for i := start; i < end; i++ {
			row := x[i*d : (i+1)*d]
			dst := out[i*k : (i+1)*k]
			for j := 0; j < k; j++ {
				dist := vek.Distance(row, c[j*d:(j+1)*d])
				dst[j] = dist * dist
			}
		}
	})
}

// hostArgMin returns the index of the smallest value of each row of an n x k
// distance matrix.
func hostArgMin(dist []float64, n, k int, labels []int, threads int) {
	parallel.ParallelizeN(n, threads, func(start, end int) {
		for i := start; i < end; i++ {
			labels[i] = vek.ArgMin(dist[i*k : (i+1)*k])
		}
	})
}
