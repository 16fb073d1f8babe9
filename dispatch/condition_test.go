package dispatch

import (
	"testing"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func TestChain(t *testing.T) {
	c := NewChain("KMeans.fit")
	if !c.Supported() {
		t.Fatal("empty chain should be supported")
	}

	c.And(true, "X is dense").And(false, "sample_weight is None").And(true, "n_clusters < n_samples")
	if c.Supported() {
		t.Error("chain with a failed condition should not be supported")
	}
	failed := c.Failed()
	if len(failed) != 1 || failed[0].Description != "sample_weight is None" {
		t.Errorf("Failed() = %v", failed)
	}
	if len(c.Conditions()) != 3 {
		t.Errorf("all conditions should be recorded, got %d", len(c.Conditions()))
	}

	want := "X is dense: pass\nsample_weight is None: fail\nn_clusters < n_samples: pass"
	if got := c.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestChainOr(t *testing.T) {
	c := NewChain("PCA.fit").Or(
		Condition{Description: "svd_solver is full", Passed: false},
		Condition{Description: "svd_solver is covariance_eigh", Passed: true},
	)
	conds := c.Conditions()
	if len(conds) != 1 {
		t.Fatalf("Or should add one condition, got %d", len(conds))
	}
	if !conds[0].Passed || conds[0].Description != "svd_solver is full or svd_solver is covariance_eigh" {
		t.Errorf("unexpected condition %+v", conds[0])
	}
}

func TestChainMerge(t *testing.T) {
	a := NewChain("x").And(true, "a")
	b := NewChain("y").And(false, "b")
	a.Merge(b).Merge(nil)
	if a.Supported() || len(a.Conditions()) != 2 || a.Scope() != "x" {
		t.Errorf("unexpected merge result: %v", a)
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name    string
		order   []Backend
		want    string
		wantErr bool
	}{
		{"default", nil, "reference", false},
		{"host only", []Backend{Host}, "host > reference", false},
		{"reference explicit", []Backend{Host, Device, Reference}, "host > device > reference", false},
		{"reference first", []Backend{Reference, Host}, "", true},
		{"duplicate", []Backend{Host, Host}, "", true},
		{"unknown", []Backend{"tpu"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.order...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !scigoerrors.IsConfigurationError(err) {
					t.Errorf("expected ConfigurationError, got %T", err)
				}
				return
			}
			if p.String() != tt.want {
				t.Errorf("policy = %q, want %q", p.String(), tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]string{"GPU", "cpu"})
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "device > host > reference" {
		t.Errorf("got %q", p.String())
	}
	if _, err := ParsePolicy([]string{"fpga"}); !scigoerrors.IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
	var zero Policy
	if zero.String() != DefaultPolicy().String() {
		t.Error("zero policy should behave as the default policy")
	}
}
