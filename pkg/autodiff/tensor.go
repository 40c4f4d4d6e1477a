package autodiff

import (
	"fmt"
	"math/rand"
)

// Tensor wraps a matrix with gradient tracking. Ops that consume tensors
// record a backward function responsible for accumulating gradients into
// exactly the children of the op's result.
type Tensor struct {
	Data       *Matrix
	Grad       *Matrix
	Requires   bool
	BackwardFn func() error
	Children   []*Tensor
	Name       string
}

// TensorConfig holds configuration options for creating a tensor.
type TensorConfig struct {
	RequiresGrad bool
	Name         string
}

// NewTensor creates a tensor from a matrix.
func NewTensor(data *Matrix, config *TensorConfig) (*Tensor, error) {
	if data == nil {
		return nil, fmt.Errorf("data matrix cannot be nil")
	}
	if config == nil {
		config = &TensorConfig{}
	}

	var grad *Matrix
	if config.RequiresGrad {
		var err error
		grad, err = NewMatrix(data.Rows, data.Cols)
		if err != nil {
			return nil, fmt.Errorf("failed to create gradient matrix: %w", err)
		}
	}

	return &Tensor{
		Data:     data,
		Grad:     grad,
		Requires: config.RequiresGrad,
		Name:     config.Name,
	}, nil
}

// NewZerosTensor creates a tensor filled with zeros.
func NewZerosTensor(rows, cols int, config *TensorConfig) (*Tensor, error) {
	data, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	return NewTensor(data, config)
}

// NewRandomTensor creates a tensor with scaled uniform random values.
func NewRandomTensor(rows, cols int, scale float64, rng *rand.Rand, config *TensorConfig) (*Tensor, error) {
	data, err := NewRandomMatrix(rows, cols, scale, rng)
	if err != nil {
		return nil, err
	}
	return NewTensor(data, config)
}

// ZeroGrad zeros out the gradient.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		t.Grad.Zero()
	}
}

// ensureGrad lazily allocates the gradient matrix of an intermediate result
// so upstream ops always have somewhere to accumulate.
func (t *Tensor) ensureGrad() error {
	if t.Grad != nil {
		return nil
	}
	grad, err := NewMatrix(t.Data.Rows, t.Data.Cols)
	if err != nil {
		return fmt.Errorf("allocating gradient for %s: %w", t.Name, err)
	}
	t.Grad = grad
	return nil
}

// Backward runs reverse-mode differentiation from a scalar tensor. Each
// node's backward function is invoked exactly once, in reverse topological
// order, and writes gradients only into that node's children.
func (t *Tensor) Backward() error {
	if t.Data.Rows != 1 || t.Data.Cols != 1 {
		return fmt.Errorf("backward requires a scalar tensor, got %dx%d", t.Data.Rows, t.Data.Cols)
	}
	if err := t.ensureGrad(); err != nil {
		return err
	}
	t.Grad.Data[0][0] = 1.0

	visited := make(map[*Tensor]bool)
	var topo []*Tensor

	var buildTopo func(node *Tensor) error
	buildTopo = func(node *Tensor) error {
		if node == nil {
			return fmt.Errorf("nil tensor in computation graph")
		}
		if visited[node] {
			return nil
		}
		visited[node] = true
		for _, child := range node.Children {
			if err := buildTopo(child); err != nil {
				return err
			}
		}
		topo = append(topo, node)
		return nil
	}

	if err := buildTopo(t); err != nil {
		return fmt.Errorf("failed to build topology: %w", err)
	}

	for i := len(topo) - 1; i >= 0; i-- {
		node := topo[i]
		if node.BackwardFn == nil {
			continue
		}
		if err := node.BackwardFn(); err != nil {
			return fmt.Errorf("backward through %s: %w", node.Name, err)
		}
	}

	return nil
}

// resultConfig derives the config of an op result: it carries gradients iff
// any input does.
func resultConfig(name string, inputs ...*Tensor) *TensorConfig {
	requires := false
	for _, in := range inputs {
		if in.Requires {
			requires = true
			break
		}
	}
	return &TensorConfig{RequiresGrad: requires, Name: name}
}

// wire attaches children and a backward function to an op result, pre-
// allocating the gradient matrices the backward pass will write into.
func (t *Tensor) wire(fn func() error, children ...*Tensor) error {
	if !t.Requires {
		return nil
	}
	for _, child := range children {
		if child.Requires {
			if err := child.ensureGrad(); err != nil {
				return err
			}
		}
	}
	t.Children = append(t.Children, children...)
	t.BackwardFn = fn
	return nil
}
