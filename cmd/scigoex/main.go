// Package main provides the scigoex CLI: inspect the accelerated runtime,
// list patchable methods and explain dispatch decisions.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/scigoex"
	"github.com/YuminosukeSato/scigoex/patch"
	"github.com/YuminosukeSato/scigoex/pkg/config"
	"github.com/YuminosukeSato/scigoex/pkg/log"
	"github.com/YuminosukeSato/scigoex/pkg/version"
)

var (
	buildVersion = "0.1.0"
	commit       = "dev"
)

func main() {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	rootCmd := &cobra.Command{
		Use:   "scigoex",
		Short: "scigoex - accelerated backends for scigo estimators",
		Long: `scigoex routes estimator methods to device, host or reference
implementations according to capability predicates.

Configuration is read from --config (YAML) and SCIGOEX_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			return log.SetupLogger(cfg.Log.Level, cfg.Log.Format)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SCIGOEX_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log.format (json, text, console)")

	newRuntime := func() (*scigoex.Runtime, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return scigoex.New(cfg)
	}

	var headerPath string
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the CLI version, the runtime version and the features it enables.

With --header, the version macros of a native library header are read
instead and the features that runtime would enable are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("scigoex v%s (%s)\n", buildVersion, commit)
			if headerPath != "" {
				return printHeaderVersion(headerPath)
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Printf("runtime %s", rt.Features.Runtime)
			if name := rt.Devices.DriverName(); name != "" {
				fmt.Printf(" (driver %s)", name)
			} else {
				fmt.Print(" (builtin host kernels)")
			}
			fmt.Println()
			printFeatures(rt.Features)
			return nil
		},
	}
	versionCmd.Flags().StringVar(&headerPath, "header", "", "Read the runtime version from a native library header")
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List the host and available devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tID\tNAME\tVENDOR\tMEMORY\tFLOAT64\tFEATURES")
			host := rt.Devices.Host()
			fmt.Fprintf(w, "%s\t-\t%s\t%s\t-\t%t\t%s\n", host.Kind, host.Name, host.Vendor, host.Float64, strings.Join(host.Features, ","))
			for _, d := range rt.Devices.Devices() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%t\t%s\n", d.Kind, d.ID, d.Name, d.Vendor, memory(d.MemoryBytes), d.Float64, strings.Join(d.Features, ","))
			}
			return w.Flush()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "patch-map [Target.method...]",
		Short: "List patchable estimator methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return printPatchMap(os.Stdout, rt.Registry, args)
		},
	})

	rootCmd.AddCommand(explainCmd(newRuntime))
	rootCmd.AddCommand(benchCmd(newRuntime))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// printPatchMap writes the state of the named keys, or of every key.
func printPatchMap(out io.Writer, r *patch.Registry, names []string) error {
	keys := r.Keys()
	if len(names) > 0 {
		keys = make([]patch.Key, 0, len(names))
		for _, n := range names {
			k, err := patch.ParseKey(n)
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tSTATE")
	for _, k := range keys {
		st, err := r.State(k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", k, st)
	}
	return w.Flush()
}

func printHeaderVersion(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	v, bin, err := version.ParseHeader(f)
	if err != nil {
		return err
	}
	fmt.Printf("header runtime %s (binary %d.%d)\n", v, bin.Major, bin.Minor)
	printFeatures(version.Detect(v))
	return nil
}

func printFeatures(info version.Info) {
	for _, f := range []version.Feature{version.FeatureKMeans, version.FeatureMinMaxScaler, version.FeaturePCA, version.FeatureStandardScaler} {
		req, _ := version.Minimum(f)
		fmt.Printf("  %-16s requires >= %-10s %s\n", f, req, enabled(info.Has(f)))
	}
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

func memory(b uint64) string {
	const gib = 1 << 30
	switch {
	case b == 0:
		return "-"
	case b >= gib:
		return fmt.Sprintf("%.1fGiB", float64(b)/gib)
	default:
		return fmt.Sprintf("%dMiB", b>>20)
	}
}
