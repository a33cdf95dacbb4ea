package dataset

import (
	"errors"
	"math/rand"
)

// ErrInvalidBatchSize is returned for a batch size below one.
var ErrInvalidBatchSize = errors.New("sampler: batch size must be > 0")

// EpochSampler walks one epoch of a dataset in batches. The visiting order
// is a permutation seeded with the epoch number, so a given epoch always
// sees the same batches. Images and labels are gathered through the same
// index, which keeps every pair intact.
type EpochSampler struct {
	ds        *Dataset
	batchSize int
	perm      []int
	pos       int
	cur       Batch
}

// NewEpochSampler returns a sampler for the given epoch.
func NewEpochSampler(ds *Dataset, batchSize, epoch int) (*EpochSampler, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if ds == nil {
		return nil, errors.New("sampler: nil dataset")
	}
	return &EpochSampler{
		ds:        ds,
		batchSize: batchSize,
		perm:      Permutation(ds.N, epoch),
	}, nil
}

// Permutation returns the visiting order of n examples for epoch.
func Permutation(n, epoch int) []int {
	return rand.New(rand.NewSource(int64(epoch))).Perm(n)
}

// NumBatches returns ceil(N / batchSize).
func (s *EpochSampler) NumBatches() int {
	return (s.ds.N + s.batchSize - 1) / s.batchSize
}

// Next advances to the next batch and reports whether one is available.
// The last batch holds the remainder when N is not a multiple of the batch
// size.
func (s *EpochSampler) Next() bool {
	if s.pos >= len(s.perm) {
		s.cur = Batch{}
		return false
	}
	end := s.pos + s.batchSize
	if end > len(s.perm) {
		end = len(s.perm)
	}
	s.cur = s.ds.Gather(s.perm[s.pos:end])
	s.pos = end
	return true
}

// Batch returns the batch produced by the last call to Next.
func (s *EpochSampler) Batch() Batch { return s.cur }

// Reset rewinds the sampler to the first batch of the same permutation.
func (s *EpochSampler) Reset() {
	s.pos = 0
	s.cur = Batch{}
}
