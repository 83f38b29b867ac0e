package reconciliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseSettlement lê linhas reference,amount[,currency]. Cabeçalho opcional.
// Referência repetida é erro: o provedor liquida cada depósito uma vez.
func ParseSettlement(r io.Reader) ([]SettlementRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		rows []SettlementRow
		seen = make(map[string]bool)
	)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "reference") {
			continue
		}
		if len(rec) < 2 || len(rec) > 3 {
			return nil, fmt.Errorf("%w: line %d: expected 2 or 3 fields, got %d", ErrInvalidFile, line, len(rec))
		}
		ref := strings.TrimSpace(rec[0])
		if ref == "" {
			return nil, fmt.Errorf("%w: line %d: empty reference", ErrInvalidFile, line)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: amount %q", ErrInvalidFile, line, rec[1])
		}
		if seen[ref] {
			return nil, fmt.Errorf("%w: line %d: duplicate reference %s", ErrInvalidFile, line, ref)
		}
		seen[ref] = true
		row := SettlementRow{Reference: ref, Amount: amount.Round(2)}
		if len(rec) == 3 {
			row.Currency = strings.ToUpper(strings.TrimSpace(rec[2]))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func sumRows(rows []SettlementRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}
