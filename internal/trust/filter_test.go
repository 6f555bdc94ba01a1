package trust

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var vitals = []string{"age", "heart_rate", "bp"}

// dataset builds a vitals dataset from numeric rows.
func dataset(rows ...[]float64) Dataset {
	ds := Dataset{Columns: vitals}
	for _, r := range rows {
		row := make([]string, len(r))
		for i, v := range r {
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

// star is a mean row surrounded by one +-10 step along each axis.
func star() Dataset {
	return dataset(
		[]float64{50, 80, 130},
		[]float64{40, 80, 130},
		[]float64{60, 80, 130},
		[]float64{50, 70, 130},
		[]float64{50, 90, 130},
		[]float64{50, 80, 120},
		[]float64{50, 80, 140},
	)
}

// correlated returns 50 rows where heart rate and blood pressure follow age.
func correlated() Dataset {
	var rows [][]float64
	for i := range 50 {
		age := float64(30 + i)
		hr := 60 + age/2 + float64((i*7)%5-2)
		bp := 100 + age + float64((i*3)%7-3)
		rows = append(rows, []float64{age, hr, bp})
	}
	return dataset(rows...)
}

func TestSymbolicRejections(t *testing.T) {
	ds := star()
	ds.Rows = append(ds.Rows,
		[]string{"150", "80", "130"},
		[]string{"50", "10", "130"},
		[]string{"150", "10", "130"},
	)

	res, err := NewFilter(DefaultOptions()).Filter(ds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	tests := []struct {
		row    int
		reason string
	}{
		{7, "invalid age: age=150 outside [0, 120]"},
		{8, "lethal heart rate: heart_rate=10 outside [30, 220]"},
		{9, "invalid age: age=150 outside [0, 120]"},
	}

	if len(res.Rejected) != len(tests) {
		t.Fatalf("rejected %d rows, want %d: %+v", len(res.Rejected), len(tests), res.Rejected)
	}

	for i, tt := range tests {
		rej := res.Rejected[i]
		if rej.Row != tt.row || rej.Kind != KindSymbolic || rej.Reason != tt.reason {
			t.Errorf("rejection %d = %+v, want row %d symbolic %q", i, rej, tt.row, tt.reason)
		}
		if rej.Line != tt.row+2 {
			t.Errorf("rejection %d line = %d, want %d", i, rej.Line, tt.row+2)
		}
	}

	if len(res.Accepted) != 7 || len(res.Weights) != 7 {
		t.Errorf("accepted %d rows with %d weights, want 7", len(res.Accepted), len(res.Weights))
	}
}

func TestNonNumericRuleValue(t *testing.T) {
	ds := star()
	ds.Rows[2] = []string{"unknown", "80", "130"}

	f := NewFilter(DefaultOptions())
	res, err := f.Filter(ds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if len(res.Rejected) != 1 || res.Rejected[0].Reason != "invalid age: age=unknown outside [0, 120]" {
		t.Errorf("rejected = %+v, want the unknown age row", res.Rejected)
	}
	if diff := cmp.Diff(vitals, f.Profile().Columns); diff != "" {
		t.Errorf("profile columns mismatch (-want +got):\n%s", diff)
	}
}

func TestNonNumericFeatureAfterFit(t *testing.T) {
	f := NewFilter(DefaultOptions())
	if _, err := f.Filter(correlated()); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	ds := correlated()
	ds.Rows[3][1] = "abc"

	res, err := f.Filter(ds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	want := []Rejection{{
		Row:    3,
		Line:   5,
		Kind:   KindSymbolic,
		Reason: "non-numeric value: heart_rate=abc",
		Values: ds.Rows[3],
	}}
	if diff := cmp.Diff(want, res.Rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}
	if len(res.Accepted) != len(ds.Rows)-1 {
		t.Errorf("accepted %d rows, want %d", len(res.Accepted), len(ds.Rows)-1)
	}
}

func TestNonNumericFeatureAtFit(t *testing.T) {
	ds := correlated()
	ds.Rows[3][2] = "abc"

	f := NewFilter(DefaultOptions())
	res, err := f.Filter(ds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if diff := cmp.Diff(vitals, f.Profile().Columns); diff != "" {
		t.Errorf("profile columns mismatch (-want +got):\n%s", diff)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Row != 3 || res.Rejected[0].Kind != KindSymbolic {
		t.Errorf("rejected = %+v, want row 3 only", res.Rejected)
	}
}

func TestMeanRowFullWeight(t *testing.T) {
	f := NewFilter(DefaultOptions())

	res, err := f.Filter(star())
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if len(res.Rejected) != 0 {
		t.Fatalf("rejected = %+v, want none", res.Rejected)
	}
	if res.Weights[0] != 1.0 {
		t.Errorf("mean row weight = %v, want 1.0", res.Weights[0])
	}
	if p := f.Profile().PValue([]float64{50, 80, 130}); p < 0.999 {
		t.Errorf("mean row p-value = %v, want ~1", p)
	}
	if diff := cmp.Diff([]float64{50, 80, 130}, f.Profile().Mean); diff != "" {
		t.Errorf("mean mismatch (-want +got):\n%s", diff)
	}
}

func TestStatisticalAnomaly(t *testing.T) {
	f := NewFilter(DefaultOptions())

	clean, err := f.Filter(correlated())
	if err != nil {
		t.Fatalf("Filter clean: %v", err)
	}
	if len(clean.Rejected) != 0 {
		t.Fatalf("clean rows rejected: %+v", clean.Rejected)
	}

	// Every field is within hard bounds; only the correlation is broken.
	res, err := f.Filter(dataset(
		[]float64{50, 85, 150},
		[]float64{50, 200, 150},
	))
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	if len(res.Accepted) != 1 || res.Accepted[0][1] != "85" {
		t.Errorf("accepted = %v, want the plausible row", res.Accepted)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %+v, want the outlier", res.Rejected)
	}

	rej := res.Rejected[0]
	if rej.Kind != KindStatistical || rej.Row != 1 {
		t.Errorf("rejection = %+v, want statistical row 1", rej)
	}
	if rej.PValue >= 0.001 {
		t.Errorf("p-value = %v, want < 0.001", rej.PValue)
	}
	if !strings.Contains(rej.Reason, "p=") {
		t.Errorf("reason %q does not carry the p-value", rej.Reason)
	}
}

func TestAcceptedOrderAndWeights(t *testing.T) {
	ds := correlated()
	ds.Rows[10] = []string{"130", "80", "130"}
	ds.Rows[20] = []string{"40", "25", "130"}

	res, err := NewFilter(DefaultOptions()).Filter(ds)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	var want [][]string
	for i, row := range ds.Rows {
		if i != 10 && i != 20 {
			want = append(want, row)
		}
	}

	if diff := cmp.Diff(want, res.Accepted); diff != "" {
		t.Errorf("accepted mismatch (-want +got):\n%s", diff)
	}
	if len(res.Weights) != len(res.Accepted) {
		t.Fatalf("%d weights for %d rows", len(res.Weights), len(res.Accepted))
	}
	for i, w := range res.Weights {
		if w < 0.1 || w > 1.0 || math.IsNaN(w) {
			t.Errorf("weight %d = %v outside [0.1, 1.0]", i, w)
		}
	}
}

func TestProfileReusedUntilRefit(t *testing.T) {
	f := NewFilter(DefaultOptions())

	if _, err := f.Filter(star()); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	first := f.Profile()

	shifted := dataset(
		[]float64{70, 100, 150},
		[]float64{60, 100, 150},
		[]float64{80, 100, 150},
		[]float64{70, 90, 150},
		[]float64{70, 110, 150},
	)

	if _, err := f.Filter(shifted); err != nil {
		t.Fatalf("Filter shifted: %v", err)
	}
	if f.Profile() != first {
		t.Error("profile refitted without Refit")
	}

	if err := f.Refit(shifted); err != nil {
		t.Fatalf("Refit: %v", err)
	}
	if got := f.Profile().Mean[0]; got != 70 {
		t.Errorf("refitted age mean = %v, want 70", got)
	}
}

func TestFilterErrors(t *testing.T) {
	fitted := NewFilter(DefaultOptions())
	if _, err := fitted.Filter(star()); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	tests := []struct {
		name   string
		filter *Filter
		ds     Dataset
		want   error
	}{
		{
			name:   "missing rule field",
			filter: NewFilter(DefaultOptions()),
			ds:     Dataset{Columns: []string{"age", "bp"}, Rows: [][]string{{"1", "2"}, {"3", "4"}}},
			want:   ErrMissingField,
		},
		{
			name:   "single row",
			filter: NewFilter(DefaultOptions()),
			ds:     dataset([]float64{50, 80, 130}),
			want:   ErrInsufficientData,
		},
		{
			name:   "fitted column dropped",
			filter: fitted,
			ds: Dataset{
				Columns: []string{"age", "heart_rate"},
				Rows:    [][]string{{"50", "80"}, {"51", "81"}},
			},
			want: ErrSchemaMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.filter.Filter(tt.ds); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEmptyDataset(t *testing.T) {
	f := NewFilter(DefaultOptions())

	res, err := f.Filter(Dataset{Columns: vitals})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(res.Accepted) != 0 || len(res.Rejected) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if f.Profile() != nil {
		t.Error("profile fitted on empty dataset")
	}
}

func TestWeightClamp(t *testing.T) {
	f := NewFilter(DefaultOptions())

	tests := []struct {
		p, want float64
	}{
		{0, 0.1},
		{0.01, 0.1},
		{0.1, 0.5},
		{0.2, 1.0},
		{1, 1.0},
	}

	for _, tt := range tests {
		if got := f.weight(tt.p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("weight(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	if err := (Rule{Field: "age", Min: 0, Max: 120}).Validate(); err != nil {
		t.Errorf("valid rule: %v", err)
	}
	if err := (Rule{Field: "age", Min: 10, Max: 1}).Validate(); err == nil {
		t.Error("inverted bounds accepted")
	}
	if err := (Rule{Min: 0, Max: 1}).Validate(); err == nil {
		t.Error("unnamed rule accepted")
	}
}
