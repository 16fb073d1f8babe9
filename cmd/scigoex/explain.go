package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigoex"
	"github.com/YuminosukeSato/scigoex/core/data"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/patches/kmeans"
	"github.com/YuminosukeSato/scigoex/patches/minmax"
	"github.com/YuminosukeSato/scigoex/patches/pca"
	"github.com/YuminosukeSato/scigoex/patches/scaler"
	"github.com/YuminosukeSato/scigoex/preprocessing"
	"github.com/YuminosukeSato/scigoex/sklearn/cluster"
	"github.com/YuminosukeSato/scigoex/sklearn/decomposition"
)

type explainOptions struct {
	estimator string
	method    string
	samples   int
	features  int
	sparse    bool
	weighted  bool
	target    string
	dtype     string
	dataPath  string

	clusters  int
	algorithm string
	solver    string
	fitted    bool
}

func explainCmd(newRuntime func() (*scigoex.Runtime, error)) *cobra.Command {
	var o explainOptions
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show which backend a call would run on and why",
		Long: `Evaluate the capability predicate of an estimator method for a synthetic
input of the given shape, without running it.

  scigoex explain --estimator kmeans --method fit --samples 10000 --features 20
  scigoex explain --estimator pca --solver cov --target host
  scigoex explain --estimator standard-scaler --method transform --data X.csv --dtype float32`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return runExplain(cmd.Context(), rt, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.estimator, "estimator", "kmeans", "Estimator: kmeans, pca, standard-scaler, minmax-scaler")
	f.StringVar(&o.method, "method", "fit", "Method to dispatch")
	f.IntVar(&o.samples, "samples", 1000, "Number of samples")
	f.IntVar(&o.features, "features", 10, "Number of features")
	f.BoolVar(&o.sparse, "sparse", false, "Use a CSR input")
	f.BoolVar(&o.weighted, "sample-weight", false, "Pass sample weights")
	f.StringVar(&o.target, "target", "", "Override target_offload for this call")
	f.StringVar(&o.dtype, "dtype", "float64", "Input dtype: float64, float32")
	f.StringVar(&o.dataPath, "data", "", "Read the input from a numeric CSV file instead of generating it")
	f.IntVar(&o.clusters, "clusters", 8, "KMeans n_clusters")
	f.StringVar(&o.algorithm, "algorithm", cluster.AlgorithmLloyd, "KMeans algorithm")
	f.StringVar(&o.solver, "solver", decomposition.SolverAuto, "PCA svd_solver")
	f.BoolVar(&o.fitted, "fitted", true, "Treat the estimator as fitted for predict/transform")
	return cmd
}

func runExplain(ctx context.Context, rt *scigoex.Runtime, o explainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.target != "" {
		t, err := device.ParseTarget(o.target)
		if err != nil {
			return err
		}
		ctx = device.WithTarget(ctx, t)
	}

	X, err := explainInput(o)
	if err != nil {
		return err
	}
	n, d := X.Dims()
	o.samples, o.features = n, d
	args := dispatch.Args{X: X}
	if o.weighted {
		args.SampleWeight = make([]float64, n)
		for i := range args.SampleWeight {
			args.SampleWeight[i] = 1
		}
	}

	est, err := explainEstimator(ctx, rt, o)
	if err != nil {
		return err
	}
	dec, derr := rt.Dispatcher.Decide(ctx, est, o.method, args)
	printDecision(dec)
	return derr
}

func explainInput(o explainOptions) (mat.Matrix, error) {
	var X mat.Matrix
	if o.dataPath != "" {
		f, err := os.Open(o.dataPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dense, err := readCSV(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", o.dataPath, err)
		}
		X = dense
		if o.sparse {
			X = data.CSRFromDense(dense)
		}
	} else {
		X = syntheticInput(o.samples, o.features, o.sparse, 0)
	}

	switch strings.ToLower(o.dtype) {
	case "", "float64":
		return X, nil
	case "float32":
		if data.IsSparse(X) {
			return nil, fmt.Errorf("float32 sparse input is not supported")
		}
		return data.Float32From(X), nil
	}
	return nil, fmt.Errorf("unknown dtype %q", o.dtype)
}

// readCSV parses a numeric CSV. A first row that does not parse is treated
// as a header.
func readCSV(r io.Reader) (*mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		if _, err := strconv.ParseFloat(records[0][0], 64); err != nil {
			records = records[1:]
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	d := len(records[0])
	X := mat.NewDense(len(records), d, nil)
	for i, rec := range records {
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			X.Set(i, j, v)
		}
	}
	return X, nil
}

// explainEstimator builds the estimator view, fitting it on a small synthetic
// sample first when a fitted model is required.
func explainEstimator(ctx context.Context, rt *scigoex.Runtime, o explainOptions) (dispatch.Estimator, error) {
	fitFirst := o.fitted && o.method != "fit"
	small := syntheticInput(max(o.clusters+1, 10), o.features, false, 1)

	var (
		est  any
		view dispatch.Estimator
	)
	switch strings.ToLower(o.estimator) {
	case "kmeans":
		k := cluster.NewKMeans(cluster.WithKMeansNClusters(o.clusters), cluster.WithKMeansAlgorithm(o.algorithm), cluster.WithKMeansRandomState(0))
		est, view = k, kmeans.Adapt(k, rt.Features)
	case "pca":
		p := decomposition.NewPCA(decomposition.WithPCASVDSolver(o.solver))
		if fitFirst {
			// transform is accelerated only for models fitted by an accelerated backend
			err := rt.Registry.Scoped(func() error { return p.FitContext(ctx, small) }, patch.Key{Target: "PCA", Method: "fit"})
			if err != nil {
				return nil, err
			}
			fitFirst = false
		}
		est, view = p, pca.Adapt(p, rt.Features)
	case "standard-scaler", "standardscaler", "scaler":
		s := preprocessing.NewStandardScaler(!o.sparse, true)
		est, view = s, scaler.Adapt(s, rt.Features)
	case "minmax-scaler", "minmaxscaler", "minmax":
		m := preprocessing.NewMinMaxScalerDefault()
		est, view = m, minmax.Adapt(m, rt.Features)
	default:
		return nil, fmt.Errorf("unknown estimator %q", o.estimator)
	}

	if fitFirst {
		if err := fitForExplain(est, small); err != nil {
			return nil, err
		}
	}
	if pg, ok := est.(model.ParameterGetter); ok {
		printParams(os.Stdout, pg.GetParams())
	}
	return view, nil
}

func fitForExplain(est any, X mat.Matrix) error {
	switch e := est.(type) {
	case model.Fitter:
		return e.Fit(X, nil)
	case model.Transformer:
		return e.Fit(X)
	}
	return fmt.Errorf("%T cannot be fitted", est)
}

func printParams(w io.Writer, params map[string]interface{}) {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	fmt.Fprintf(w, "params: %s\n", strings.Join(parts, ", "))
}

func printDecision(dec dispatch.Decision) {
	if dec.Scope == "" {
		return
	}
	fmt.Fprintf(os.Stdout, "%s (target_offload=%s)\n", dec.Scope, dec.Target)
	for _, ev := range dec.Evaluations {
		switch {
		case ev.Skipped != "":
			fmt.Printf("  %-9s skipped: %s\n", ev.Backend, ev.Skipped)
		case ev.Chain == nil:
			fmt.Printf("  %-9s always available\n", ev.Backend)
		default:
			verdict := "unsupported"
			if ev.Chain.Supported() {
				verdict = "supported"
			}
			fmt.Printf("  %-9s %s\n", ev.Backend, verdict)
			for _, c := range ev.Chain.Conditions() {
				fmt.Printf("      %s\n", c)
			}
		}
	}
	if dec.Backend != "" {
		where := "reference implementation"
		if dec.Accelerated() {
			where = "accelerated version on " + dec.Queue.String()
		}
		fmt.Printf("=> running %s\n", where)
	}
}

// syntheticInput returns a seeded uniform matrix. Sparse inputs keep about a
// tenth of the entries.
func syntheticInput(n, d int, sparse bool, seed int64) mat.Matrix {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, d, nil)
	raw := X.RawMatrix().Data
	for i := range raw {
		if sparse && rng.Float64() > 0.1 {
			continue
		}
		raw[i] = rng.Float64()
	}
	if sparse {
		return data.CSRFromDense(X)
	}
	return X
}
