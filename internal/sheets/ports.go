package sheets

import (
	"context"
	"fmt"
	"sort"
)

// Ports for outbound sync adapters.
type (
	// RecordWriter uploads one change-tracked row snapshot. A nil error means
	// the sink holds the row and it may be marked synced locally.
	RecordWriter interface {
		WriteRecord(ctx context.Context, table string, rec map[string]any) error
		Name() string
	}

	// RecordLister reads back what a sink holds for one table.
	RecordLister interface {
		ListRecords(ctx context.Context, table string) ([]map[string]any, error)
	}
)

// Columns returns the record's column names in a stable order, id first.
func Columns(rec map[string]any) []string {
	cols := make([]string, 0, len(rec))
	for k := range rec {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	if _, ok := rec["id"]; ok {
		cols = append([]string{"id"}, cols...)
	}
	return cols
}

// CellValue renders a stored column value for a spreadsheet cell. NULL
// becomes the empty string.
func CellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string, int64, float64, bool:
		return x
	default:
		return fmt.Sprint(x)
	}
}
