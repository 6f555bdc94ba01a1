// Package client is the trainer-side HTTP client for a FedGuard node.
//
// Besides plain API calls it can mirror the node's ledger locally and run
// the integrity gate against that mirror, so a trainer checks the global
// model it receives without trusting the node's own verdict.
package client

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/checkpoint"
	"FedGuard/internal/digest"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
	"FedGuard/internal/sync"
	"FedGuard/internal/trust"
)

// defaultTimeout bounds every request.
const defaultTimeout = 60 * time.Second

// Client connects to a FedGuard node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node's HTTP root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http sends the requests
}

// NewClient creates a client for the node at nodeAddr, given either as
// host:port or as a full http(s) URL.
func NewClient(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Tip returns the node's ledger tip.
func (c *Client) Tip() (ledger.Block, error) {
	var b ledger.Block
	if err := c.httpGet("/ledger/tip", &b); err != nil {
		return ledger.Block{}, err
	}
	return b, nil
}

// Chain returns the node's block document with hashes as served.
func (c *Client) Chain() ([]ledger.Block, error) {
	data, _, err := c.httpGetBytes("/ledger")
	if err != nil {
		return nil, err
	}
	return ledger.DecodeChain(data)
}

// Snapshot returns the node's compressed ledger snapshot.
func (c *Client) Snapshot() ([]byte, error) {
	data, _, err := c.httpGetBytes("/ledger/snapshot")
	return data, err
}

// Mirror fetches a snapshot and builds a local read-only ledger from it.
// Block hashes are recomputed locally. A mirror that fails verification is
// returned as an error matching ledger.ErrIntegrityViolation.
func (c *Client) Mirror() (*ledger.Ledger, error) {
	data, err := c.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot:\n%w", err)
	}

	l, err := sync.Mirror(data)
	if err != nil {
		return nil, fmt.Errorf("mirror ledger:\n%w", err)
	}

	if v := l.Verify(); len(v) > 0 {
		logger.Warn("mirrored ledger has integrity violations", "count", len(v), "first", v[0].Error())
		return nil, fmt.Errorf("mirror ledger: %d violations:\n%w", len(v), v[0])
	}

	return l, nil
}

// LocalGate returns an integrity gate over a fresh mirror of the node's ledger.
func (c *Client) LocalGate() (*integrity.Gate, error) {
	l, err := c.Mirror()
	if err != nil {
		return nil, err
	}
	return integrity.NewGate(l), nil
}

// VerifyRound asks the node to verify weights. A rejection is a verdict,
// not an error.
func (c *Client) VerifyRound(weights []digest.Tensor) (integrity.Verdict, error) {
	var v integrity.Verdict
	body := map[string]any{"weights": weights}

	if _, err := c.httpPostJSON("/rounds/verify", body, &v, http.StatusOK, http.StatusConflict); err != nil {
		return integrity.Verdict{}, err
	}

	return v, nil
}

// CommitRound commits weights as round on the node.
func (c *Client) CommitRound(round uint64, weights []digest.Tensor, metadata map[string]any) (ledger.Block, error) {
	var b ledger.Block
	body := map[string]any{"weights": weights, "metadata": metadata}

	if _, err := c.httpPostJSON(fmt.Sprintf("/rounds/%d/commit", round), body, &b, http.StatusCreated); err != nil {
		return ledger.Block{}, err
	}

	return b, nil
}

// SubmitUpdate sends a locally trained update for round.
func (c *Client) SubmitUpdate(round uint64, u aggregation.Update) error {
	_, err := c.httpPostJSON(fmt.Sprintf("/rounds/%d/updates", round), u, nil, http.StatusAccepted)
	return err
}

// ReportFailure tells the node this participant will not deliver round.
func (c *Client) ReportFailure(round uint64, f aggregation.Failure) error {
	_, err := c.httpPostJSON(fmt.Sprintf("/rounds/%d/failures", round), f, nil, http.StatusAccepted)
	return err
}

// Aggregate asks the node to average the updates it collected for round and
// commit the result.
func (c *Client) Aggregate(round uint64) (aggregation.Result, error) {
	var res aggregation.Result

	if _, err := c.httpPostJSON(fmt.Sprintf("/rounds/%d/aggregate", round), nil, &res, http.StatusCreated); err != nil {
		return aggregation.Result{}, err
	}

	return res, nil
}

// Seed installs the initial global model on a node still at genesis.
func (c *Client) Seed(weights []digest.Tensor) error {
	_, err := c.httpPostJSON("/model/seed", map[string]any{"weights": weights}, nil, http.StatusOK)
	return err
}

// Model downloads the node's current global model.
func (c *Client) Model() ([]digest.Tensor, error) {
	data, header, err := c.httpGetBytes("/model")
	if err != nil {
		return nil, err
	}

	weights, err := checkpoint.Decode(data)
	if err != nil {
		return nil, err
	}

	if want := header.Get("X-Model-Digest"); want != "" && want != digest.Sum(weights) {
		return nil, fmt.Errorf("model digest header %s does not match content", want)
	}

	return weights, nil
}

// FetchVerifiedModel downloads the global model and verifies it against a
// local mirror of the ledger. The weights are returned only when accepted;
// the verdict is returned either way.
func (c *Client) FetchVerifiedModel() ([]digest.Tensor, integrity.Verdict, error) {
	weights, err := c.Model()
	if err != nil {
		return nil, integrity.Verdict{}, fmt.Errorf("fetch model:\n%w", err)
	}

	gate, err := c.LocalGate()
	if err != nil {
		return nil, integrity.Verdict{}, err
	}

	verdict := gate.VerifyRound(weights)
	if !verdict.Accepted() {
		return nil, verdict, nil
	}

	return weights, verdict, nil
}

// Filter screens a dataset on the node. With refit the node's profile is
// relearned from ds first.
func (c *Client) Filter(ds trust.Dataset, refit bool) (trust.Result, error) {
	var buf bytes.Buffer
	if err := trust.WriteCSV(&buf, ds); err != nil {
		return trust.Result{}, err
	}

	path := "/filter"
	if refit {
		path += "?refit=true"
	}

	resp, err := c.request(http.MethodPost, path, "text/csv", &buf, http.StatusOK)
	if err != nil {
		return trust.Result{}, err
	}
	defer resp.Body.Close()

	var res trust.Result
	if err := decodeJSON(resp, &res); err != nil {
		return trust.Result{}, err
	}

	return res, nil
}
