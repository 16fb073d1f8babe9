package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/scigoex"
	"github.com/YuminosukeSato/scigoex/core/model"
	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/sklearn/cluster"
)

// benchModel is a fresh estimator for one timed fit.
type benchModel interface {
	model.ContextFitter
	FittedBy() string
}

type benchOptions struct {
	samples  int
	features int
	clusters int
	repeat   int
	plotPath string
}

func benchCmd(newRuntime func() (*scigoex.Runtime, error)) *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare KMeans.fit on the reference and accelerated backends",
		Long: `Time KMeans.fit with the reference implementation, then with KMeans.fit
patched and target_offload forced to the host and, when one is available,
to the default device.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return runBench(cmd.Context(), rt, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.samples, "samples", 20000, "Number of samples")
	f.IntVar(&o.features, "features", 16, "Number of features")
	f.IntVar(&o.clusters, "clusters", 8, "n_clusters")
	f.IntVar(&o.repeat, "repeat", 3, "Runs per backend; the fastest is reported")
	f.StringVar(&o.plotPath, "plot", "", "Write a bar chart to this file (.png, .svg, .pdf)")
	return cmd
}

func runBench(ctx context.Context, rt *scigoex.Runtime, o benchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	X := syntheticInput(o.samples, o.features, false, 0)
	newModel := func() benchModel {
		return cluster.NewKMeans(cluster.WithKMeansNClusters(o.clusters), cluster.WithKMeansRandomState(0))
	}
	// best returns the fastest of o.repeat fits and the backend that ran them.
	best := func(ctx context.Context) (time.Duration, string, error) {
		var (
			fastest time.Duration
			backend string
		)
		for i := 0; i < max(o.repeat, 1); i++ {
			m := newModel()
			start := time.Now()
			if err := m.FitContext(ctx, X); err != nil {
				return 0, "", err
			}
			if d := time.Since(start); i == 0 || d < fastest {
				fastest, backend = d, m.FittedBy()
			}
		}
		return fastest, backend, nil
	}

	refTime, refBackend, err := best(ctx)
	if err != nil {
		return err
	}
	names := []string{refBackend}
	times := []time.Duration{refTime}

	targets := []device.Target{{Kind: device.TargetHost, ID: -1}}
	if rt.Devices.HasDevice() {
		targets = append(targets, device.Target{Kind: device.TargetDevice, ID: -1})
	}
	err = rt.Registry.Scoped(func() error {
		for _, t := range targets {
			d, backend, err := best(device.WithTarget(ctx, t))
			if err != nil {
				return fmt.Errorf("target %s: %w", t, err)
			}
			names = append(names, fmt.Sprintf("%s (%s)", t, backend))
			times = append(times, d)
		}
		return nil
	}, patch.Key{Target: "KMeans", Method: "fit"})
	if err != nil {
		return err
	}

	fmt.Printf("KMeans.fit n_samples=%d n_features=%d n_clusters=%d\n", o.samples, o.features, o.clusters)
	for i, name := range names {
		fmt.Printf("  %-20s %v", name, times[i])
		if i > 0 && times[i] > 0 {
			fmt.Printf(" (%.2fx)", float64(refTime)/float64(times[i]))
		}
		fmt.Println()
	}

	if o.plotPath == "" {
		return nil
	}
	return savePlot(o.plotPath, names, times)
}

func savePlot(path string, names []string, times []time.Duration) error {
	p := plot.New()
	p.Title.Text = "KMeans.fit"
	p.Y.Label.Text = "seconds"

	values := make(plotter.Values, len(times))
	for i, d := range times {
		values[i] = d.Seconds()
	}
	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return err
	}
	p.Add(bars)
	p.NominalX(names...)
	return p.Save(4*vg.Inch, 3*vg.Inch, path)
}
