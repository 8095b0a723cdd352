package persona

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	ColumnText          = "text"
	ColumnFavoriteCount = "favorite_count"
	ColumnViewCount     = "view_count"
	ColumnEngagement    = "engagement"
)

// RequiredColumns must all be present in an upload; anything else is ignored.
var RequiredColumns = []string{ColumnText, ColumnFavoriteCount, ColumnViewCount}

// Ratio is a float64 whose JSON form survives non-finite values: finite numbers
// encode as numbers, +Inf, -Inf and NaN encode as those strings.
type Ratio float64

// Finite returns the value and whether it is a finite number.
func (r Ratio) Finite() (float64, bool) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func (r Ratio) String() string {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if _, ok := r.Finite(); !ok {
		return json.Marshal(r.String())
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "+Inf", "Inf", "inf", "+inf":
			*r = Ratio(math.Inf(1))
		case "-Inf", "-inf":
			*r = Ratio(math.Inf(-1))
		case "NaN", "nan":
			*r = Ratio(math.NaN())
		default:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid ratio %q", s)
			}
			*r = Ratio(f)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

type Post struct {
	Text          string `json:"text"`
	FavoriteCount int64  `json:"favorite_count"`
	ViewCount     int64  `json:"view_count"`
	Engagement    Ratio  `json:"engagement"`
}

// FiniteEngagement is the total accessor for engagement: ok is false for rows
// whose view count was zero.
func (p Post) FiniteEngagement() (float64, bool) {
	return p.Engagement.Finite()
}

// ZeroViewPolicy decides what a row with view_count == 0 becomes.
type ZeroViewPolicy string

const (
	// ZeroViewKeep stores the IEEE result: +Inf, or NaN for 0/0.
	ZeroViewKeep ZeroViewPolicy = "keep"
	// ZeroViewExclude drops the row and records its number in Dataset.ExcludedRows.
	ZeroViewExclude ZeroViewPolicy = "exclude"
	// ZeroViewZero stores engagement 0.
	ZeroViewZero ZeroViewPolicy = "zero"
)

func ParseZeroViewPolicy(s string) (ZeroViewPolicy, error) {
	switch p := ZeroViewPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ZeroViewKeep, nil
	case ZeroViewKeep, ZeroViewExclude, ZeroViewZero:
		return p, nil
	default:
		return "", fmt.Errorf("unknown zero-view policy %q (want keep, exclude, or zero)", s)
	}
}

type DeriveOptions struct {
	ZeroViews ZeroViewPolicy
}

// RawTable is a parsed CSV before validation: a header row and string cells.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// Dataset is the validated upload with engagement derived per row.
type Dataset struct {
	Posts          []Post   `json:"posts"`
	Columns        []string `json:"columns"`
	IgnoredColumns []string `json:"ignored_columns,omitempty"`
	ExcludedRows   []int    `json:"excluded_rows,omitempty"`
}

func (d Dataset) Len() int { return len(d.Posts) }

func (d Dataset) Clone() Dataset {
	return Dataset{
		Posts:          append([]Post(nil), d.Posts...),
		Columns:        append([]string(nil), d.Columns...),
		IgnoredColumns: append([]string(nil), d.IgnoredColumns...),
		ExcludedRows:   append([]int(nil), d.ExcludedRows...),
	}
}

// Head returns a copy of at most n leading posts.
func (d Dataset) Head(n int) []Post {
	if n > len(d.Posts) {
		n = len(d.Posts)
	}
	if n < 0 {
		n = 0
	}
	return append([]Post(nil), d.Posts[:n]...)
}

type DatasetStats struct {
	Rows           int   `json:"rows"`
	NonFiniteRows  int   `json:"non_finite_rows"`
	TotalFavorites int64 `json:"total_favorites"`
	TotalViews     int64 `json:"total_views"`
	// MeanEngagement skips NaN rows and is +Inf when any row is +Inf.
	MeanEngagement Ratio `json:"mean_engagement"`
}

func (d Dataset) Stats() DatasetStats {
	st := DatasetStats{Rows: len(d.Posts)}
	var sum float64
	var n int
	for _, p := range d.Posts {
		st.TotalFavorites += p.FavoriteCount
		st.TotalViews += p.ViewCount
		if _, ok := p.FiniteEngagement(); !ok {
			st.NonFiniteRows++
		}
		f := float64(p.Engagement)
		if math.IsNaN(f) {
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		st.MeanEngagement = Ratio(math.NaN())
	} else {
		st.MeanEngagement = Ratio(sum / float64(n))
	}
	return st
}

// ReadCSV reads a header row and data rows. Ragged rows are kept as-is and
// rejected later by Derive only if a required cell is missing.
func ReadCSV(r io.Reader) (RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return RawTable{}, &ValidationError{Missing: append([]string(nil), RequiredColumns...), Reason: "empty file"}
	}
	if err != nil {
		return RawTable{}, &ValidationError{Reason: "unreadable CSV header", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	raw := RawTable{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			row := 0
			if errors.As(err, &pe) {
				row = pe.Line - 1
			}
			return RawTable{}, &ValidationError{Row: row, Reason: "malformed CSV", Err: err}
		}
		raw.Rows = append(raw.Rows, rec)
	}
	return raw, nil
}

// Derive validates raw and computes engagement = favorite_count / view_count.
func Derive(raw RawTable, opts DeriveOptions) (Dataset, error) {
	policy := opts.ZeroViews
	if policy == "" {
		policy = ZeroViewKeep
	}

	idx := make(map[string]int, len(raw.Header))
	for i, name := range raw.Header {
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return Dataset{}, &ValidationError{Missing: missing}
	}

	ds := Dataset{Columns: append([]string(nil), raw.Header...)}
	for _, name := range raw.Header {
		if !isRequired(name) {
			ds.IgnoredColumns = append(ds.IgnoredColumns, name)
		}
	}

	textIdx, favIdx, viewIdx := idx[ColumnText], idx[ColumnFavoriteCount], idx[ColumnViewCount]
	ds.Posts = make([]Post, 0, len(raw.Rows))
	for i, rec := range raw.Rows {
		rowNum := i + 1
		cell := func(col string, at int) (string, error) {
			if at >= len(rec) {
				return "", &ValidationError{Row: rowNum, Column: col, Reason: "missing cell"}
			}
			return rec[at], nil
		}

		text, err := cell(ColumnText, textIdx)
		if err != nil {
			return Dataset{}, err
		}
		favRaw, err := cell(ColumnFavoriteCount, favIdx)
		if err != nil {
			return Dataset{}, err
		}
		viewRaw, err := cell(ColumnViewCount, viewIdx)
		if err != nil {
			return Dataset{}, err
		}
		fav, err := parseCount(favRaw)
		if err != nil {
			return Dataset{}, &ValidationError{Row: rowNum, Column: ColumnFavoriteCount, Value: favRaw, Err: err}
		}
		views, err := parseCount(viewRaw)
		if err != nil {
			return Dataset{}, &ValidationError{Row: rowNum, Column: ColumnViewCount, Value: viewRaw, Err: err}
		}

		p := Post{Text: text, FavoriteCount: fav, ViewCount: views}
		switch {
		case views == 0 && policy == ZeroViewExclude:
			ds.ExcludedRows = append(ds.ExcludedRows, rowNum)
			continue
		case views == 0 && policy == ZeroViewZero:
			p.Engagement = 0
		default:
			p.Engagement = Ratio(float64(fav) / float64(views))
		}
		ds.Posts = append(ds.Posts, p)
	}
	return ds, nil
}

// ParseCSV is ReadCSV followed by Derive.
func ParseCSV(r io.Reader, opts DeriveOptions) (Dataset, error) {
	raw, err := ReadCSV(r)
	if err != nil {
		return Dataset{}, err
	}
	return Derive(raw, opts)
}

// parseCount accepts non-negative integers, including integral float text such as
// "10.0" which spreadsheet exports produce.
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty value")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, errors.New("not an integer")
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, errors.New("negative count")
	}
	return n, nil
}

func isRequired(name string) bool {
	for _, col := range RequiredColumns {
		if col == name {
			return true
		}
	}
	return false
}
