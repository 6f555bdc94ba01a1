package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/digest"
)

const (
	// maxBodySize is the maximum JSON request size in bytes.
	maxBodySize = 64 << 20 // 64 MB

	// maxCSVSize is the maximum dataset upload size in bytes.
	maxCSVSize = 32 << 20 // 32 MB
)

// WeightsRequest carries one weight set.
type WeightsRequest struct {
	Weights []digest.Tensor `json:"weights"`
}

// CommitRequest is the body of POST /rounds/{round}/commit.
type CommitRequest struct {
	Weights  []digest.Tensor `json:"weights"`
	Metadata map[string]any  `json:"metadata"`
}

// AggregateRequest is the optional body of POST /rounds/{round}/aggregate.
type AggregateRequest struct {
	Updates  []aggregation.Update  `json:"updates"`
	Failures []aggregation.Failure `json:"failures"`
}

// validator is implemented by requests with structural checks.
type validator interface {
	validate() error
}

func (r *WeightsRequest) validate() error {
	return validateWeights(r.Weights)
}

func (r *CommitRequest) validate() error {
	return validateWeights(r.Weights)
}

// validateWeights checks that a weight set is present and well-formed.
func validateWeights(weights []digest.Tensor) error {
	if len(weights) == 0 {
		return fmt.Errorf("missing weights")
	}
	return digest.Validate(weights)
}

// decodeBody strictly decodes a JSON body into dst and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}

	if v, ok := dst.(validator); ok {
		if err := v.validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return false
		}
	}

	return true
}

// parseRound reads the {round} path value and writes a 400 on failure.
func parseRound(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	round, err := strconv.ParseUint(r.PathValue("round"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round")
		return 0, false
	}
	return round, true
}
