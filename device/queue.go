package device

import (
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex/core/data"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Queue is an execution context for accelerated kernels. Queues are
// immutable; WithThreads returns a copy.
type Queue struct {
	info    Info
	threads int
	driver  Driver
}

// NewHostQueue returns a host queue using threads workers (<= 0 means one per CPU).
func NewHostQueue(threads int) *Queue {
	return &Queue{info: HostInfo(), threads: threads}
}

func newDeviceQueue(info Info, driver Driver) *Queue {
	return &Queue{info: info, driver: driver}
}

// Kind reports whether the queue runs on the host or on a device.
func (q *Queue) Kind() Kind { return q.info.Kind }

// IsDevice reports whether the queue offloads to a device.
func (q *Queue) IsDevice() bool { return q.info.Kind == KindDevice }

// Info describes the underlying resource.
func (q *Queue) Info() Info { return q.info }

// Threads is the host worker count.
func (q *Queue) Threads() int {
	if q.threads <= 0 {
		return runtime.NumCPU()
	}
	return q.threads
}

// WithThreads returns a copy of q using n host workers.
func (q *Queue) WithThreads(n int) *Queue {
	c := *q
	c.threads = n
	return &c
}

func (q *Queue) String() string { return q.info.String() }

// PairwiseSqDist returns the n x k matrix of squared euclidean distances
// between the rows of X and the rows of C.
func (q *Queue) PairwiseSqDist(X, C mat.Matrix) (*mat.Dense, error) {
	n, d := X.Dims()
	k, dc := C.Dims()
	if d != dc {
		return nil, scigoerrors.NewDimensionError("PairwiseSqDist", d, dc, 1)
	}
	x := data.RowMajor(X)
	c := data.RowMajor(C)
	out := make([]float64, n*k)

	if q.IsDevice() {
		if err := q.driver.PairwiseSqDist(q.info.ID, x, n, d, c, k, out); err != nil {
			return nil, scigoerrors.Wrapf(err, "%s: pairwise distances", q)
		}
	} else {
		hostPairwiseSqDist(x, n, d, c, k, out, q.Threads())
	}
	return mat.NewDense(n, k, out), nil
}

// Assign returns, for each row of X, the index of the nearest row of C and
// the squared distance to it.
func (q *Queue) Assign(X, C mat.Matrix) ([]int, []float64, error) {
	dist, err := q.PairwiseSqDist(X, C)
	if err != nil {
		return nil, nil, err
	}
	n, k := dist.Dims()
	raw := dist.RawMatrix().Data
	labels := make([]int, n)
	hostArgMin(raw, n, k, labels, q.Threads())
	best := make([]float64, n)
	for i, l := range labels {
		best[i] = raw[i*k+l]
	}
	return labels, best, nil
}

// Gram returns X^T X.
func (q *Queue) Gram(X mat.Matrix) (*mat.SymDense, error) {
	n, d := X.Dims()
	if q.IsDevice() {
		out := make([]float64, d*d)
		if err := q.driver.Gram(q.info.ID, data.RowMajor(X), n, d, out); err != nil {
			return nil, scigoerrors.Wrapf(err, "%s: gram matrix", q)
		}
		return mat.NewSymDense(d, out), nil
	}
	g := mat.NewSymDense(d, nil)
	g.SymOuterK(1, X.T())
	return g, nil
}
