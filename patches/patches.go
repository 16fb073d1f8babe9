// Package patches connects estimators to the dispatcher. Each subpackage
// provides the capability predicate of one estimator family and the patch
// entries that route its methods through a dispatch.Dispatcher.
package patches

import (
	"fmt"

	"github.com/YuminosukeSato/scigoex/device"
	"github.com/YuminosukeSato/scigoex/dispatch"
	"github.com/YuminosukeSato/scigoex/pkg/version"
)

// RuntimeCondition checks that the accelerated runtime provides f.
func RuntimeCondition(info version.Info, f version.Feature) dispatch.Condition {
	min, _ := version.Minimum(f)
	return dispatch.Condition{
		Description: fmt.Sprintf("accelerated runtime %s >= %s", info.Runtime, min),
		Passed:      info.Has(f),
	}
}

// Backend names the backend a queue belongs to, as recorded in fitted state.
func Backend(q *device.Queue) string {
	if q != nil && q.IsDevice() {
		return string(dispatch.Device)
	}
	return string(dispatch.Host)
}
