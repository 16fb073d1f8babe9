// Standard attribute keys. Keys follow a hierarchical naming convention
// ("model.name", "dispatch.backend") so records from the dispatcher, the
// device layer and the estimators can be filtered together.

package log

// Model and Component
const (
	// ModelNameKey identifies the estimator type, e.g. "KMeans", "PCA".
	ModelNameKey = "model.name"

	// ComponentKey identifies which package is logging, e.g. "dispatch", "device".
	ComponentKey = "ml.component"
)

// Data Shape and Characteristics
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"

	// DataTypeKey is the element type of the input, "float64" or "float32".
	DataTypeKey = "data.type"

	// SparseKey reports whether the input is a sparse matrix.
	SparseKey = "data.sparse"
)

// Dispatch
const (
	// DispatchBackendKey names the backend that executed the call:
	// "device", "host" or "reference".
	DispatchBackendKey = "dispatch.backend"

	// DispatchMethodKey is the dispatched method name.
	DispatchMethodKey = "dispatch.method"

	// DispatchScopeKey names where a decision or error belongs, e.g.
	// "KMeans.fit" or "patch".
	DispatchScopeKey = "dispatch.scope"

	// DispatchConditionsKey holds the rendered condition chain.
	DispatchConditionsKey = "dispatch.conditions"

	// DispatchTargetKey is the requested offload target, e.g. "auto", "gpu:0".
	DispatchTargetKey = "dispatch.target"

	// PatchKey identifies a patch registry entry, "KMeans.fit".
	PatchKey = "patch.key"
)

// Device and Parallelism
const (
	DeviceNameKey    = "device.name"
	DeviceIDKey      = "device.id"
	DeviceVendorKey  = "device.vendor"
	DeviceDriverKey  = "device.driver"
	DeviceVersionKey = "device.version"

	// ThreadsKey is the number of worker goroutines used for a call.
	ThreadsKey = "parallel.threads"
)

// Performance
const (
	DurationMsKey = "perf.duration_ms"
	IterationKey  = "training.iteration"
	InertiaKey    = "metrics.inertia"
)

// Error Context
const (
	ErrorTypeKey  = "error.type"
	SuggestionKey = "error.suggestion"
)
