package model

import (
	"iceberg-inception/internal/nn"
	"iceberg-inception/internal/optim"
)

// Batch represents a minibatch of NHWC images and 0/1 labels.
type Batch struct {
	Images *nn.Tensor
	Labels []float32
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// Model defines the training functionality required by the trainer.
type Model interface {
	TrainStep(batch Batch, opt optim.Optimizer) (float64, error)
	Loss(batch Batch) (float64, error)
	Params() []*nn.Param
}
