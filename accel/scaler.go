package accel

import (
	"context"
	"sync"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/parallel"
	"github.com/YuminosukeSato/scigoex/device"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Moments returns the column means and population variances of X. Rows are
// reduced in parallel chunks on the host; a device queue is not used.
func Moments(ctx context.Context, q *device.Queue, X mat.Matrix) (mean, variance []float64, err error) {
	x := data.Dense(X)
	n, d := x.Dims()

	mean = make([]float64, d)
	var mu sync.Mutex
	err = parallel.ForEachChunk(ctx, n, q.Threads(), func(_ context.Context, start, end int) error {
		local := make([]float64, d)
		for i := start; i < end; i++ {
			vek.Add_Inplace(local, x.RawRowView(i))
		}
		mu.Lock()
		vek.Add_Inplace(mean, local)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	vek.DivNumber_Inplace(mean, float64(n))

	variance = make([]float64, d)
	err = parallel.ForEachChunk(ctx, n, q.Threads(), func(_ context.Context, start, end int) error {
		local := make([]float64, d)
		tmp := make([]float64, d)
		for i := start; i < end; i++ {
			copy(tmp, x.RawRowView(i))
			vek.Sub_Inplace(tmp, mean)
			vek.Mul_Inplace(tmp, tmp)
			vek.Add_Inplace(local, tmp)
		}
		mu.Lock()
		vek.Add_Inplace(variance, local)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	vek.DivNumber_Inplace(variance, float64(n))
	return mean, variance, nil
}

// Standardize returns (X - mean) / scale.
func Standardize(_ context.Context, q *device.Queue, X mat.Matrix, mean, scale []float64) *mat.Dense {
	out := mat.DenseCopyOf(data.Dense(X))
	n, _ := out.Dims()
	parallel.ParallelizeN(n, q.Threads(), func(start, end int) {
		for i := start; i < end; i++ {
			row := out.RawRowView(i)
			vek.Sub_Inplace(row, mean)
			vek.Div_Inplace(row, scale)
		}
	})
	return out
}

// MinMax returns the column minima and maxima of X.
func MinMax(ctx context.Context, q *device.Queue, X mat.Matrix) (dataMin, dataMax []float64, err error) {
	x := data.Dense(X)
	n, _ := x.Dims()
	if n == 0 {
		return nil, nil, scigoerrors.NewValueError("MinMax", "input has no samples")
	}

	dataMin = append([]float64(nil), x.RawRowView(0)...)
	dataMax = append([]float64(nil), x.RawRowView(0)...)
	var mu sync.Mutex
	err = parallel.ForEachChunk(ctx, n, q.Threads(), func(_ context.Context, start, end int) error {
		lo := append([]float64(nil), x.RawRowView(start)...)
		hi := append([]float64(nil), lo...)
		for i := start + 1; i < end; i++ {
			row := x.RawRowView(i)
			vek.Minimum_Inplace(lo, row)
			vek.Maximum_Inplace(hi, row)
		}
		mu.Lock()
		vek.Minimum_Inplace(dataMin, lo)
		vek.Maximum_Inplace(dataMax, hi)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return dataMin, dataMax, nil
}

// Rescale returns (X - dataMin) / scale * (hi - lo) + lo.
func Rescale(_ context.Context, q *device.Queue, X mat.Matrix, dataMin, scale []float64, lo, hi float64) *mat.Dense {
	out := mat.DenseCopyOf(data.Dense(X))
	n, _ := out.Dims()
	width := hi - lo
	parallel.ParallelizeN(n, q.Threads(), func(start, end int) {
		for i := start; i < end; i++ {
			row := out.RawRowView(i)
			vek.Sub_Inplace(row, dataMin)
			vek.Div_Inplace(row, scale)
			vek.MulNumber_Inplace(row, width)
			vek.AddNumber_Inplace(row, lo)
		}
	})
	return out
}
