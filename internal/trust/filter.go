// Package trust screens local training records before they are fitted on.
//
// Each record passes two stages. Hard rules reject physiologically
// impossible values outright. The surviving records are then scored by
// their Mahalanobis distance from a profile learned from the data; records
// whose chi-square tail probability falls below the significance level are
// rejected, and the rest get a trust weight derived from that probability.
package trust

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"FedGuard/internal/logger"
)

var (
	// ErrMissingField is returned when a rule names a column the dataset lacks.
	ErrMissingField = errors.New("trust: rule field missing from dataset")

	// ErrSingularCovariance is returned when the regularized covariance cannot be inverted.
	ErrSingularCovariance = errors.New("trust: covariance not invertible")

	// ErrInsufficientData is returned when a profile cannot be fitted.
	ErrInsufficientData = errors.New("trust: not enough data to fit")

	// ErrSchemaMismatch is returned when a dataset's numeric columns differ from the profile's.
	ErrSchemaMismatch = errors.New("trust: dataset lacks a fitted column")

	// ErrAuditTampered is returned when an audit file no longer matches its manifest.
	ErrAuditTampered = errors.New("trust: audit export does not match its manifest")
)

// Kind tells data-quality rejections apart.
type Kind string

const (
	KindSymbolic    Kind = "symbolic"
	KindStatistical Kind = "statistical"
)

// Options holds the filter policy.
type Options struct {
	Significance   float64 // Significance is the p-value below which a row is an anomaly
	Floor          float64 // Floor is the minimum trust weight
	Cap            float64 // Cap is the maximum trust weight
	Scale          float64 // Scale multiplies the p-value into a weight
	Regularization float64 // Regularization is added to the covariance diagonal
	Rules          []Rule  // Rules are the hard bounds, evaluated in order
}

// DefaultOptions returns the standard policy.
func DefaultOptions() Options {
	return Options{
		Significance:   0.001,
		Floor:          0.1,
		Cap:            1.0,
		Scale:          5,
		Regularization: 1e-6,
		Rules:          DefaultRules(),
	}
}

// Rejection is one excluded row.
type Rejection struct {
	Row    int      `json:"row"`               // Row is the 0-based position in the input
	Line   int      `json:"line"`              // Line is the CSV line, counting the header
	Kind   Kind     `json:"kind"`              // Kind is symbolic or statistical
	Reason string   `json:"reason"`            // Reason is the machine-checkable explanation
	PValue float64  `json:"p_value,omitempty"` // PValue is set for statistical rejections
	Values []string `json:"values"`            // Values are the row's cells
}

// Result is the outcome of filtering one dataset.
// Accepted preserves input order and Weights is aligned with it.
type Result struct {
	Columns  []string    `json:"columns"`
	Accepted [][]string  `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
	Weights  []float64   `json:"weights"`
}

// Filter applies the two-stage screen. The profile is fitted on the first
// dataset filtered and reused afterwards until Refit is called.
type Filter struct {
	mu      sync.Mutex
	opts    Options
	profile *Profile
}

// NewFilter creates a filter with the given policy.
func NewFilter(opts Options) *Filter {
	return &Filter{opts: opts}
}

// Profile returns the fitted profile, or nil before the first fit.
func (f *Filter) Profile() *Profile {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.profile
}

// Refit replaces the profile with one learned from ds.
func (f *Filter) Refit(ds Dataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fitLocked(ds)
}

// fitLocked fits a profile on ds's numeric columns (caller must hold lock).
func (f *Filter) fitLocked(ds Dataset) error {
	p, err := Fit(ds, ds.NumericColumns(), f.opts.Regularization)
	if err != nil {
		return fmt.Errorf("fit profile:\n%w", err)
	}

	f.profile = p
	logger.Info("trust profile fitted", "rows", len(ds.Rows), "features", len(p.Columns))

	return nil
}

// Filter screens every row of ds.
func (f *Filter) Filter(ds Dataset) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := bindRules(ds, f.opts.Rules)
	if err != nil {
		return Result{}, err
	}

	res := Result{Columns: slices.Clone(ds.Columns)}
	if len(ds.Rows) == 0 {
		return res, nil
	}

	if f.profile == nil {
		if err := f.fitLocked(ds); err != nil {
			return Result{}, err
		}
	}

	cols, err := f.featureColumns(ds)
	if err != nil {
		return Result{}, err
	}

	x := make([]float64, len(cols))

	for i, row := range ds.Rows {
		if reason := firstViolation(row, rules); reason != "" {
			res.reject(Rejection{Row: i, Kind: KindSymbolic, Reason: reason, Values: row})
			continue
		}

		if c, ok := parseFeatures(row, cols, x); !ok {
			name := f.profile.Columns[c]
			res.reject(Rejection{
				Row:    i,
				Kind:   KindSymbolic,
				Reason: fmt.Sprintf("non-numeric value: %s=%s", name, cell(row, cols[c])),
				Values: row,
			})
			continue
		}

		p := f.profile.PValue(x)
		if p < f.opts.Significance {
			res.reject(Rejection{
				Row:    i,
				Kind:   KindStatistical,
				Reason: fmt.Sprintf("statistical anomaly: p=%.4g below %g", p, f.opts.Significance),
				PValue: p,
				Values: row,
			})
			continue
		}

		res.Accepted = append(res.Accepted, row)
		res.Weights = append(res.Weights, f.weight(p))
	}

	logger.Info("dataset filtered", "rows", len(ds.Rows), "accepted", len(res.Accepted), "rejected", len(res.Rejected))

	return res, nil
}

// featureColumns binds the profile's features to ds by name. Cell values are
// checked per row, so only a missing column fails the dataset.
func (f *Filter) featureColumns(ds Dataset) ([]int, error) {
	cols, missing := ds.columns(f.profile.Columns)
	if missing != "" {
		return nil, fmt.Errorf("%w: no column %s, fitted on %v", ErrSchemaMismatch, missing, f.profile.Columns)
	}
	return cols, nil
}

// cell returns row[j], or "" for a short row.
func cell(row []string, j int) string {
	if j < len(row) {
		return row[j]
	}
	return ""
}

// weight converts a p-value into a trust weight within [Floor, Cap].
func (f *Filter) weight(p float64) float64 {
	return max(f.opts.Floor, min(f.opts.Cap, p*f.opts.Scale))
}

// reject records r and logs it.
func (r *Result) reject(rej Rejection) {
	rej.Line = rej.Row + 2
	r.Rejected = append(r.Rejected, rej)
	logger.Debug("row rejected", "row", rej.Row, "kind", string(rej.Kind), "reason", rej.Reason)
}
