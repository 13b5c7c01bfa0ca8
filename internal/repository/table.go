package repository

import (
	"strings"

	"github.com/maheshrc27/threadpost/internal/apperr"
)

// Table is a decoded delimited file: a header row and data rows.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// columns maps normalised header names to their index.
type columns map[string]int

func (t Table) columns() columns {
	cols := make(columns, len(t.Header))
	for i, h := range t.Header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func (c columns) require(table string, names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := c[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return apperr.Errorf(apperr.KindDataFormat, "refresh."+table,
			"missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
