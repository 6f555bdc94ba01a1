package aggregation

import (
	"errors"
	"math"
	"testing"

	"FedGuard/internal/digest"
)

// update builds a single-tensor update filled with v.
func update(participant string, v float64, samples int) Update {
	return Update{
		Participant: participant,
		Weights: []digest.Tensor{
			{Shape: []int{2, 2}, DType: digest.Float64, Data: []float64{v, v, v, v}},
			{Shape: []int{2}, DType: digest.Float32, Data: []float64{v, -v}},
		},
		NumSamples: samples,
	}
}

func TestFedAvg_SampleWeighted(t *testing.T) {
	avg, err := FedAvg([]Update{update("a", 1, 10), update("b", 4, 30)})
	if err != nil {
		t.Fatalf("FedAvg: %v", err)
	}

	// (1*10 + 4*30) / 40
	want := 3.25
	for _, v := range avg[0].Data {
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("element = %v, want %v", v, want)
		}
	}
	if avg[1].Data[1] != -want {
		t.Errorf("float32 element = %v, want %v", avg[1].Data[1], -want)
	}
}

func TestFedAvg_RoundsFloat32(t *testing.T) {
	avg, err := FedAvg([]Update{update("a", 0.1, 1), update("b", 0.2, 2)})
	if err != nil {
		t.Fatalf("FedAvg: %v", err)
	}

	for _, v := range avg[1].Data {
		if v != float64(float32(v)) {
			t.Errorf("float32 tensor holds %v, not float32-representable", v)
		}
	}
}

func TestFedAvg_DoesNotAliasInput(t *testing.T) {
	in := []Update{update("a", 2, 1)}

	avg, err := FedAvg(in)
	if err != nil {
		t.Fatalf("FedAvg: %v", err)
	}
	avg[0].Data[0] = 99

	if in[0].Weights[0].Data[0] != 2 {
		t.Error("FedAvg output aliases input weights")
	}
}

func TestFedAvg_Rejects(t *testing.T) {
	reshaped := update("b", 1, 1)
	reshaped.Weights[0].Shape = []int{4}

	retyped := update("b", 1, 1)
	retyped.Weights[1].DType = digest.Float64

	short := update("b", 1, 1)
	short.Weights = short.Weights[:1]

	tests := []struct {
		name    string
		updates []Update
		want    error
	}{
		{"empty", nil, ErrNoUpdates},
		{"zero samples", []Update{update("a", 1, 0)}, ErrInvalidUpdate},
		{"shape", []Update{update("a", 1, 1), reshaped}, ErrInvalidUpdate},
		{"dtype", []Update{update("a", 1, 1), retyped}, ErrInvalidUpdate},
		{"tensor count", []Update{update("a", 1, 1), short}, ErrInvalidUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FedAvg(tt.updates); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
