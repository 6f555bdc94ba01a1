package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/api"
	"FedGuard/internal/checkpoint"
	"FedGuard/internal/digest"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/sync"
	"FedGuard/internal/trust"
)

// newTestNode starts an HTTP node over a temp file ledger and returns a
// client connected to it.
func newTestNode(t *testing.T) (*Client, *aggregation.Aggregator) {
	t.Helper()

	dir := t.TempDir()

	l, err := ledger.Open(ledger.NewFileStore(filepath.Join(dir, "ledger.json")))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	gate := integrity.NewGate(l)
	agg := aggregation.NewAggregator(gate, checkpoint.NewStore(filepath.Join(dir, "model.fgw")))

	srv := api.New(":0", api.Services{
		Ledger:     l,
		Gate:       gate,
		Filter:     trust.NewFilter(trust.DefaultOptions()),
		Collector:  aggregation.NewCollector(),
		Aggregator: agg,
		Snapshots:  sync.NewSnapshotManager(l),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL), agg
}

// weights returns a small weight set filled with v.
func weights(v float64) []digest.Tensor {
	return []digest.Tensor{{Shape: []int{2}, DType: digest.Float32, Data: []float64{v, -v}}}
}

func TestNewClient_AddsScheme(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080":         "http://127.0.0.1:8080",
		"http://node:8080/":      "http://node:8080",
		"https://node.example:1": "https://node.example:1",
	}

	for in, want := range tests {
		if got := NewClient(in).baseURL; got != want {
			t.Errorf("NewClient(%q).baseURL = %q, want %q", in, got, want)
		}
	}
}

func TestClient_RoundLifecycle(t *testing.T) {
	c, _ := newTestNode(t)

	if err := c.Seed(weights(0.5)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	model, verdict, err := c.FetchVerifiedModel()
	if err != nil {
		t.Fatalf("FetchVerifiedModel: %v", err)
	}
	if verdict.Code != integrity.CodeGenesisBootstrap || model == nil {
		t.Fatalf("genesis verdict = %+v", verdict)
	}

	updates := []aggregation.Update{
		{Participant: "hospital-a", Weights: weights(1), NumSamples: 10},
		{Participant: "hospital-b", Weights: weights(3), NumSamples: 30},
	}
	for _, u := range updates {
		if err := c.SubmitUpdate(1, u); err != nil {
			t.Fatalf("SubmitUpdate(%s): %v", u.Participant, err)
		}
	}
	if err := c.ReportFailure(1, aggregation.Failure{Participant: "hospital-c", Reason: "schema mismatch"}); err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}

	res, err := c.Aggregate(1)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Round != 1 || res.Clients != 2 || res.Failures != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Block.ModelHash != digest.Sum(weights(2.5)) {
		t.Errorf("block model hash = %s, want digest of averaged weights", res.Block.ModelHash)
	}

	model, verdict, err = c.FetchVerifiedModel()
	if err != nil {
		t.Fatalf("FetchVerifiedModel: %v", err)
	}
	if verdict.Code != integrity.CodeHashMatch {
		t.Fatalf("verdict = %+v, want hash match", verdict)
	}
	if diff := cmp.Diff(weights(2.5), model); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}

	tip, err := c.Tip()
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	chain, err := c.Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if tip.Index != 1 || len(chain) != 2 || chain[1].Hash != tip.Hash {
		t.Errorf("tip %d, chain of %d blocks", tip.Index, len(chain))
	}
}

func TestClient_TamperedModelRejected(t *testing.T) {
	c, agg := newTestNode(t)

	if _, err := c.CommitRound(1, weights(0.5), map[string]any{"client_count": 1}); err != nil {
		t.Fatalf("CommitRound: %v", err)
	}

	// The node serves a model that differs from what the ledger committed.
	if err := agg.Seed(weights(0.75)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	model, verdict, err := c.FetchVerifiedModel()
	if err != nil {
		t.Fatalf("FetchVerifiedModel: %v", err)
	}
	if model != nil {
		t.Error("tampered model returned")
	}
	if verdict.Accepted() || verdict.Code != integrity.CodeHashMismatch {
		t.Errorf("verdict = %+v, want hash mismatch", verdict)
	}

	remote, err := c.VerifyRound(weights(0.75))
	if err != nil {
		t.Fatalf("VerifyRound: %v", err)
	}
	if remote.Outcome != integrity.Rejected {
		t.Errorf("remote outcome = %v, want rejected", remote.Outcome)
	}
}

func TestClient_TamperedLedgerFailsClosed(t *testing.T) {
	l, err := ledger.Open(ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json")))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if _, err := l.Append(1, digest.Sum(weights(0.5)), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The node rewrites the committed digest to match a substituted model
	// but cannot recompute a hash the trainer would accept.
	evil := weights(0.75)
	chain := l.Chain()
	chain[len(chain)-1].ModelHash = digest.Sum(evil)

	snap, err := sync.CreateSnapshot(chain)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	model, err := checkpoint.Encode(evil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ledger/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Write(snap)
	})
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Model-Digest", digest.Sum(evil))
		w.Write(model)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c := NewClient(ts.URL)

	if _, err := c.Mirror(); !errors.Is(err, ledger.ErrIntegrityViolation) {
		t.Errorf("Mirror err = %v, want ErrIntegrityViolation", err)
	}

	got, _, err := c.FetchVerifiedModel()
	if !errors.Is(err, ledger.ErrIntegrityViolation) {
		t.Errorf("FetchVerifiedModel err = %v, want ErrIntegrityViolation", err)
	}
	if got != nil {
		t.Error("substituted model returned")
	}
}

func TestClient_APIErrors(t *testing.T) {
	c, _ := newTestNode(t)

	_, err := c.CommitRound(5, weights(1), nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CommitRound err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message == "" {
		t.Errorf("api error = %+v", apiErr)
	}

	if _, err := c.Model(); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Model err = %v, want 404", err)
	}

	u := aggregation.Update{Participant: "a", Weights: weights(1), NumSamples: 1}
	if err := c.SubmitUpdate(1, u); err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	if err := c.SubmitUpdate(1, u); !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("duplicate SubmitUpdate err = %v, want 409", err)
	}
}

func TestClient_Filter(t *testing.T) {
	c, _ := newTestNode(t)

	ds := trust.Dataset{
		Columns: []string{"age", "heart_rate"},
		Rows: [][]string{
			{"30", "70"},
			{"45", "80"},
			{"60", "75"},
			{"25", "65"},
			{"50", "90"},
			{"150", "72"},
		},
	}

	res, err := c.Filter(ds, true)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if len(res.Accepted) != 5 || len(res.Weights) != 5 {
		t.Errorf("accepted %d rows with %d weights, want 5", len(res.Accepted), len(res.Weights))
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Row != 5 || res.Rejected[0].Kind != trust.KindSymbolic {
		t.Errorf("rejected = %+v", res.Rejected)
	}

	_, err = c.Filter(trust.Dataset{Columns: []string{"age"}, Rows: [][]string{{"30"}}}, false)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Filter without heart_rate err = %v, want 400", err)
	}
}
