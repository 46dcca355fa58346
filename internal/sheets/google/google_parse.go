package google

import (
	"fmt"
	"strings"
)

// parseRecords converts a values matrix (as returned by Sheets API) into one
// map per id. Row 0 is the header. Later lines for an id replace earlier ones
// but keep its first position. Blank cells read as absent columns.
func parseRecords(values [][]any) []map[string]any {
	if len(values) < 2 {
		return []map[string]any{}
	}
	headers := toStrings(values[0])
	colID := indexOf(headers, "id")

	byID := map[string]int{}
	out := make([]map[string]any, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := toStrings(raw)
		rec := map[string]any{}
		for i, h := range headers {
			if h == "" {
				continue
			}
			if v := safeGet(row, i); v != "" {
				rec[h] = v
			}
		}
		if len(rec) == 0 {
			continue
		}

		id := safeGet(row, colID)
		if i, ok := byID[id]; ok && id != "" {
			out[i] = rec
			continue
		}
		if id != "" {
			byID[id] = len(out)
		}
		out = append(out, rec)
	}
	return out
}

// mergeHeader returns header extended with the columns it does not list yet,
// in their given order.
func mergeHeader(header, cols []string) []string {
	merged := append([]string(nil), header...)
	for _, c := range cols {
		if indexOf(merged, c) == -1 {
			merged = append(merged, c)
		}
	}
	return merged
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func toCells(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
