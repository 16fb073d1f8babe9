package version

import "sort"

// Feature names an estimator family whose accelerated implementation depends
// on the runtime version.
type Feature string

const (
	FeatureKMeans         Feature = "KMeans"
	FeatureMinMaxScaler   Feature = "MinMaxScaler"
	FeaturePCA            Feature = "PCA"
	FeatureStandardScaler Feature = "StandardScaler"
)

// Minimum runtime version per feature.
var minimums = map[Feature]Version{
	FeatureKMeans:         {Major: 2023, Minor: 2},
	FeatureMinMaxScaler:   {Major: 2024, Minor: 0},
	FeaturePCA:            {Major: 2021, Minor: 1},
	FeatureStandardScaler: {Major: 2021, Minor: 1},
}

// Minimum returns the oldest runtime that provides f.
func Minimum(f Feature) (Version, bool) {
	v, ok := minimums[f]
	return v, ok
}

// Info describes the available runtime and the features it enables.
type Info struct {
	Runtime  Version
	Features map[Feature]bool
}

// Detect computes the feature set for a runtime version.
func Detect(runtime Version) Info {
	info := Info{Runtime: runtime, Features: make(map[Feature]bool, len(minimums))}
	for f, min := range minimums {
		info.Features[f] = runtime.AtLeast(min)
	}
	return info
}

// Has reports whether f is available.
func (i Info) Has(f Feature) bool {
	return i.Features[f]
}

// Enabled lists the available features in name order.
func (i Info) Enabled() []Feature {
	out := make([]Feature, 0, len(i.Features))
	for f, ok := range i.Features {
		if ok {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}
