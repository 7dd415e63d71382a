package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// TimeLayout is the fixed-width UTC timestamp written into rows, so that
// lexical and chronological order agree.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Row is one JSON document
type Row = json.RawMessage

// Filter is an equality match on a top-level field
type Filter struct {
	Field string
	Value string
}

// Query selects rows from a table
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	// Limit <= 0 means no limit
	Limit int
}

// Eq returns a query filtering on field == value
func Eq(field, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

// Table is a remote collection of JSON rows
type Table interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	// Insert assigns id and created_at when absent and returns the stored row
	Insert(ctx context.Context, row Row) (Row, error)
	// Update shallow-merges patch into the row; the id cannot change
	Update(ctx context.Context, id string, patch Row) (Row, error)
	// Delete removes the row; a missing id is apperr.ErrNotFound
	Delete(ctx context.Context, id string) error
}

// Store hands out tables by name
type Store interface {
	Table(name string) Table
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}

func validQuery(q Query) error {
	if q.OrderBy != "" {
		if err := validField(q.OrderBy); err != nil {
			return err
		}
	}
	for _, f := range q.Filters {
		if err := validField(f.Field); err != nil {
			return err
		}
	}
	return nil
}

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// prepareInsert returns row with id and created_at filled in
func prepareInsert(row Row, now time.Time) (Row, string, error) {
	if !gjson.ValidBytes(row) || !gjson.ParseBytes(row).IsObject() {
		return nil, "", fmt.Errorf("row must be a JSON object")
	}
	out := append(Row(nil), row...)
	var err error

	id := gjson.GetBytes(out, "id").String()
	if id == "" {
		id = uuid.NewString()
		if out, err = sjson.SetBytes(out, "id", id); err != nil {
			return nil, "", err
		}
	}
	// Go's zero time marshals as 0001-01-01T00:00:00Z and counts as absent
	created := gjson.GetBytes(out, "created_at").String()
	if ts, perr := time.Parse(time.RFC3339Nano, created); created == "" || (perr == nil && ts.IsZero()) {
		if out, err = sjson.SetBytes(out, "created_at", FormatTime(now)); err != nil {
			return nil, "", err
		}
	}
	return out, id, nil
}

// mergePatch copies every top-level key of patch except id into doc
func mergePatch(doc, patch Row) (Row, error) {
	if !gjson.ValidBytes(patch) || !gjson.ParseBytes(patch).IsObject() {
		return nil, fmt.Errorf("patch must be a JSON object")
	}
	out := append(Row(nil), doc...)
	var err error
	gjson.ParseBytes(patch).ForEach(func(key, value gjson.Result) bool {
		if key.String() == "id" {
			return true
		}
		out, err = sjson.SetRawBytes(out, escapePath(key.String()), []byte(value.Raw))
		return err == nil
	})
	return out, err
}

// stripID removes id from a patch document
func stripID(patch Row) (Row, error) {
	if !gjson.GetBytes(patch, "id").Exists() {
		return patch, nil
	}
	return sjson.DeleteBytes(patch, "id")
}

func rowID(row Row) string {
	return gjson.GetBytes(row, "id").String()
}

func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		if gjson.GetBytes(row, escapePath(f.Field)).String() != f.Value {
			return false
		}
	}
	return true
}

// sortRows orders rows by a field, comparing times, then numbers, then strings
func sortRows(rows []Row, field string, desc bool) {
	if field == "" {
		return
	}
	path := escapePath(field)
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(gjson.GetBytes(rows[i], path), gjson.GetBytes(rows[j], path))
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b gjson.Result) int {
	if ta, err := time.Parse(time.RFC3339Nano, a.String()); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, b.String()); err == nil {
			return ta.Compare(tb)
		}
	}
	if a.Type == gjson.Number && b.Type == gjson.Number {
		switch {
		case a.Float() < b.Float():
			return -1
		case a.Float() > b.Float():
			return 1
		}
		return 0
	}
	if fa, err := strconv.ParseFloat(a.String(), 64); err == nil {
		if fb, err := strconv.ParseFloat(b.String(), 64); err == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a.String(), b.String())
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
