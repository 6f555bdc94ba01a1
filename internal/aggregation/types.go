package aggregation

import (
	"FedGuard/internal/digest"
	"FedGuard/internal/ledger"
)

// Update is one participant's locally trained weights for a round.
type Update struct {
	Participant string          `json:"participant"` // Participant identifies the trainer
	Weights     []digest.Tensor `json:"weights"`     // Weights are the trained model weights
	NumSamples  int             `json:"num_samples"` // NumSamples is the count of accepted training rows
}

// Failure records a participant that did not deliver an update.
type Failure struct {
	Participant string `json:"participant"` // Participant identifies the trainer
	Reason      string `json:"reason"`      // Reason is why the round failed for it
}

// Result is the outcome of one aggregated round.
type Result struct {
	Round    uint64          `json:"round"`    // Round is the committed round
	Block    ledger.Block    `json:"block"`    // Block is the ledger commitment
	Clients  int             `json:"clients"`  // Clients is the number of updates averaged
	Failures int             `json:"failures"` // Failures is the number of failed participants
	Weights  []digest.Tensor `json:"-"`        // Weights is the new global model
}
