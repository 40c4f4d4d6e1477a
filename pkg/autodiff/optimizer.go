package autodiff

import (
	"math"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params map[string]*Tensor)
	SetLearningRate(lr float64)
}

// AdamOptimizer implements the Adam optimization algorithm.
type AdamOptimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	m map[string]*Matrix
	v map[string]*Matrix
	t int
}

// NewAdamOptimizer creates a new Adam optimizer.
func NewAdamOptimizer(lr, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
		m:            make(map[string]*Matrix),
		v:            make(map[string]*Matrix),
	}
}

func (opt *AdamOptimizer) SetLearningRate(lr float64) { opt.LearningRate = lr }

// Step performs one optimization step over all parameters with gradients.
func (opt *AdamOptimizer) Step(params map[string]*Tensor) {
	opt.t++
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.t))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.t))

	for name, param := range params {
		if param.Grad == nil || !param.Requires {
			continue
		}
		if _, exists := opt.m[name]; !exists {
			opt.m[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
			opt.v[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
		}
		for i := 0; i < param.Data.Rows; i++ {
			for j := 0; j < param.Data.Cols; j++ {
				grad := param.Grad.Data[i][j]
				if opt.WeightDecay > 0 {
					grad += opt.WeightDecay * param.Data.Data[i][j]
				}
				opt.m[name].Data[i][j] = opt.Beta1*opt.m[name].Data[i][j] + (1.0-opt.Beta1)*grad
				opt.v[name].Data[i][j] = opt.Beta2*opt.v[name].Data[i][j] + (1.0-opt.Beta2)*grad*grad
				mHat := opt.m[name].Data[i][j] / bc1
				vHat := opt.v[name].Data[i][j] / bc2
				param.Data.Data[i][j] -= opt.LearningRate * mHat / (math.Sqrt(vHat) + opt.Epsilon)
			}
		}
	}
}

// SGDOptimizer implements stochastic gradient descent with momentum.
type SGDOptimizer struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	velocity map[string]*Matrix
}

// NewSGDOptimizer creates a new SGD optimizer.
func NewSGDOptimizer(lr, weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		LearningRate: lr,
		Momentum:     0.9,
		WeightDecay:  weightDecay,
		velocity:     make(map[string]*Matrix),
	}
}

func (opt *SGDOptimizer) SetLearningRate(lr float64) { opt.LearningRate = lr }

func (opt *SGDOptimizer) Step(params map[string]*Tensor) {
	for name, param := range params {
		if param.Grad == nil || !param.Requires {
			continue
		}
		if _, exists := opt.velocity[name]; !exists {
			opt.velocity[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
		}
		for i := 0; i < param.Data.Rows; i++ {
			for j := 0; j < param.Data.Cols; j++ {
				grad := param.Grad.Data[i][j]
				if opt.WeightDecay > 0 {
					grad += opt.WeightDecay * param.Data.Data[i][j]
				}
				opt.velocity[name].Data[i][j] = opt.Momentum*opt.velocity[name].Data[i][j] - opt.LearningRate*grad
				param.Data.Data[i][j] += opt.velocity[name].Data[i][j]
			}
		}
	}
}

// ClipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm. A non-positive maxNorm disables clipping.
func ClipGradients(params map[string]*Tensor, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	totalNormSq := 0.0
	for _, param := range params {
		if param.Grad == nil || !param.Requires {
			continue
		}
		for i := 0; i < param.Grad.Rows; i++ {
			for j := 0; j < param.Grad.Cols; j++ {
				totalNormSq += param.Grad.Data[i][j] * param.Grad.Data[i][j]
			}
		}
	}
	totalNorm := math.Sqrt(totalNormSq)
	if totalNorm <= maxNorm {
		return
	}
	clipFactor := maxNorm / (totalNorm + 1e-6)
	for _, param := range params {
		if param.Grad == nil || !param.Requires {
			continue
		}
		for i := 0; i < param.Grad.Rows; i++ {
			for j := 0; j < param.Grad.Cols; j++ {
				param.Grad.Data[i][j] *= clipFactor
			}
		}
	}
}

// ZeroGradients clears accumulated gradients before the next iteration.
func ZeroGradients(params map[string]*Tensor) {
	for _, param := range params {
		if param.Grad != nil && param.Requires {
			param.ZeroGrad()
		}
	}
}
