package taskstore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

var csvHeader = []string{"active", "account", "schedule", "destination", "payload", "result", "link"}

// decodeCSV reads a spreadsheet export. Columns are matched by header name,
// case-insensitively; result and link are optional.
func decodeCSV(b []byte) ([]row, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, h := range recs[0] {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range csvHeader[:5] {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", name)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	rows := make([]row, 0, len(recs)-1)
	for n, rec := range recs[1:] {
		active, err := parseBool(get(rec, "active"))
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", n+2, err)
		}
		rows = append(rows, row{
			Active:      active,
			Account:     get(rec, "account"),
			Schedule:    get(rec, "schedule"),
			Destination: get(rec, "destination"),
			Payload:     get(rec, "payload"),
			Result:      get(rec, "result"),
			Link:        get(rec, "link"),
		})
	}
	return rows, nil
}

func encodeCSV(rows []row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{strconv.FormatBool(r.Active), r.Account, r.Schedule, r.Destination, r.Payload, r.Result, r.Link}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "n", "off":
		return false, nil
	case "1", "true", "yes", "y", "on", "x":
		return true, nil
	}
	return false, fmt.Errorf("invalid active flag %q", s)
}
