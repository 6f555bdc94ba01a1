package trust

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"FedGuard/internal/logger"
)

// Profile is the learned distribution of a dataset's numeric features.
type Profile struct {
	Columns []string      `json:"columns"` // Columns names the features, in order
	Mean    []float64     `json:"mean"`    // Mean is the per-feature mean
	InvCov  *mat.SymDense `json:"-"`       // InvCov is the inverse regularized covariance

	dist distuv.ChiSquared
}

// Fit learns a profile from the given numeric columns of ds. Rows with a
// cell that does not parse in one of those columns are left out.
// The sample covariance is regularized by reg*I before inversion.
func Fit(ds Dataset, cols []int, reg float64) (*Profile, error) {
	k := len(cols)
	if k == 0 {
		return nil, fmt.Errorf("%w: no numeric columns", ErrInsufficientData)
	}

	var data []float64
	vec := make([]float64, k)
	for _, row := range ds.Rows {
		if _, ok := parseFeatures(row, cols, vec); ok {
			data = append(data, vec...)
		}
	}

	n := len(data) / k
	if n < 2 {
		return nil, fmt.Errorf("%w: %d usable rows", ErrInsufficientData, n)
	}

	x := mat.NewDense(n, k, data)

	mean := make([]float64, k)
	for c := range k {
		mean[c] = stat.Mean(mat.Col(nil, c, x), nil)
	}

	cov := mat.NewSymDense(k, nil)
	stat.CovarianceMatrix(cov, x, nil)
	for c := range k {
		cov.SetSym(c, c, cov.At(c, c)+reg)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, ErrSingularCovariance
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		logger.Warn("covariance is ill-conditioned", "condition", float64(cond))
	}

	return &Profile{
		Columns: ds.names(cols),
		Mean:    mean,
		InvCov:  &inv,
		dist:    distuv.ChiSquared{K: float64(k)},
	}, nil
}

// parseFeatures reads row's cols into x. On failure it returns the position
// in cols of the first cell that is not a finite number.
func parseFeatures(row []string, cols []int, x []float64) (int, bool) {
	for c, j := range cols {
		v, ok := parseCell(row, j)
		if !ok {
			return c, false
		}
		x[c] = v
	}
	return 0, true
}

// Distance returns the squared Mahalanobis distance of x from the mean.
func (p *Profile) Distance(x []float64) float64 {
	diff := mat.NewVecDense(len(x), nil)
	for i := range x {
		diff.SetVec(i, x[i]-p.Mean[i])
	}
	return mat.Inner(diff, p.InvCov, diff)
}

// PValue returns the right-tail chi-square probability of x, with one
// degree of freedom per feature.
func (p *Profile) PValue(x []float64) float64 {
	return p.dist.Survival(p.Distance(x))
}
