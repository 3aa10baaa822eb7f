package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseCSV reads name,phone_number rows. A header row is detected and skipped.
func ParseCSV(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	nameCol, phoneCol := 0, 1
	var rows []ImportRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if line == 1 {
			if n, p, ok := headerColumns(rec); ok {
				nameCol, phoneCol = n, p
				continue
			}
		}
		if len(rec) <= nameCol || len(rec) <= phoneCol {
			return nil, fmt.Errorf("%w: csv line %d has %d columns", ErrInvalidArgument, line, len(rec))
		}
		if strings.TrimSpace(rec[nameCol]) == "" && strings.TrimSpace(rec[phoneCol]) == "" {
			continue
		}
		rows = append(rows, ImportRow{
			Line:        line,
			Name:        strings.TrimSpace(rec[nameCol]),
			PhoneNumber: strings.TrimSpace(rec[phoneCol]),
		})
	}
	return rows, nil
}

func headerColumns(rec []string) (name, phone int, ok bool) {
	name, phone = -1, -1
	for i, h := range rec {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			name = i
		case "phone", "phone_number":
			phone = i
		}
	}
	return name, phone, name >= 0 && phone >= 0
}
