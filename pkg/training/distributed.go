package training

import (
	"github.com/strucformer/pkg/autodiff"
)

// Strategy abstracts multi-worker replication. The loop's only contract with
// it is that gradients are synchronized before the optimizer step and that
// each worker trains on a disjoint shard; rank bookkeeping stays behind this
// interface, never in the core.
type Strategy interface {
	// Shard describes this worker's slice of the dataset as an
	// (offset, stride) pair over sample indices.
	Shard() (offset, stride int)

	// SyncGradients is invoked after backward and before the optimizer
	// step; on return, gradients must reflect the all-reduced state.
	SyncGradients(params map[string]*autodiff.Tensor) error
}

// SingleProcess is the strategy of an unreplicated run: the full dataset,
// local gradients.
type SingleProcess struct{}

func (SingleProcess) Shard() (int, int) { return 0, 1 }

func (SingleProcess) SyncGradients(map[string]*autodiff.Tensor) error { return nil }
