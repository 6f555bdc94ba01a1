package aggregation

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"

	"FedGuard/internal/digest"
)

var (
	// ErrNoUpdates is returned when a round has nothing to average.
	ErrNoUpdates = errors.New("aggregation: no updates")

	// ErrInvalidUpdate is returned for an update that cannot be averaged.
	ErrInvalidUpdate = errors.New("aggregation: invalid update")
)

// FedAvg returns the element-wise mean of the updates' weights, each update
// weighted by its sample count. Every update must have the same tensor
// layout as the first. Float32 tensors are rounded back to float32.
func FedAvg(updates []Update) ([]digest.Tensor, error) {
	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}

	var total float64
	for i, u := range updates {
		if err := checkUpdate(updates[0], u); err != nil {
			return nil, fmt.Errorf("update %d (%s): %w", i, u.Participant, err)
		}
		total += float64(u.NumSamples)
	}

	out := digest.Clone(updates[0].Weights)

	var wg sync.WaitGroup
	for ti := range out {
		wg.Add(1)

		go func(ti int) {
			defer wg.Done()
			averageTensor(out, ti, updates, total)
		}(ti)
	}
	wg.Wait()

	return out, nil
}

// averageTensor fills out[ti] with the weighted mean of tensor ti.
// Updates are summed in slice order so the result is deterministic.
func averageTensor(out []digest.Tensor, ti int, updates []Update, total float64) {
	data := out[ti].Data
	clear(data)

	for _, u := range updates {
		floats.AddScaled(data, float64(u.NumSamples)/total, u.Weights[ti].Data)
	}

	if out[ti].DType == digest.Float32 {
		for i, v := range data {
			data[i] = float64(float32(v))
		}
	}
}

// checkUpdate checks that u is valid and laid out like ref.
func checkUpdate(ref, u Update) error {
	if u.NumSamples <= 0 {
		return fmt.Errorf("%w: %d samples", ErrInvalidUpdate, u.NumSamples)
	}
	if err := digest.Validate(u.Weights); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if len(u.Weights) != len(ref.Weights) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrInvalidUpdate, len(u.Weights), len(ref.Weights))
	}

	for i, t := range u.Weights {
		r := ref.Weights[i]
		if t.DType != r.DType || len(t.Data) != len(r.Data) || !slices.Equal(t.Shape, r.Shape) {
			return fmt.Errorf("%w: tensor %d is %s%v, want %s%v", ErrInvalidUpdate, i, t.DType, t.Shape, r.DType, r.Shape)
		}
	}

	return nil
}
