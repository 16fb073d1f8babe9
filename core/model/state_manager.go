package model

import (
	"sync"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// StateManager manages the fitted state of a model in a thread-safe manner.
// Estimators embed it by composition; the dispatch layer reads it through
// IsFitted when evaluating predicates for predict and transform.
type StateManager struct {
	mu    sync.RWMutex
	state EstimatorState

	nFeatures int
	nSamples  int
	// backend records which implementation produced the fitted state:
	// "reference", "host" or "device".
	backend string
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Fitted
}

// MarkFitted records the fitted dimensions and the producing backend in one step.
func (s *StateManager) MarkFitted(nFeatures, nSamples int, backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Fitted
	s.nFeatures = nFeatures
	s.nSamples = nSamples
	s.backend = backend
}

// Reset resets the fitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = NotFitted
	s.nFeatures = 0
	s.nSamples = 0
	s.backend = ""
}

// GetDimensions returns the number of features and samples seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nFeatures, s.nSamples
}

// FittedBy returns the backend that produced the fitted state.
func (s *StateManager) FittedBy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// RequireFitted returns a NotFittedError if the model has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return scigoerrors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures returns a DimensionError when nFeatures does not match the
// number of features seen during fitting.
func (s *StateManager) RequireFeatures(op string, nFeatures int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nFeatures != nFeatures {
		return scigoerrors.NewDimensionError(op, s.nFeatures, nFeatures, 1)
	}
	return nil
}

// ModelState represents the complete state of a model for debugging output.
type ModelState struct {
	Fitted    bool   `json:"fitted"`
	NFeatures int    `json:"n_features,omitempty"`
	NSamples  int    `json:"n_samples,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelState{
		Fitted:    s.state == Fitted,
		NFeatures: s.nFeatures,
		NSamples:  s.nSamples,
		Backend:   s.backend,
	}
}
