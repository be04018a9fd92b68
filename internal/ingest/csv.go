// Package ingest parses raw CSV batches into validated transactions.
package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RequiredColumns are the header columns every batch must carry,
// matched case-insensitively and in any order.
var RequiredColumns = []string{
	"transaction_id",
	"date",
	"amount",
	"account_id",
	"merchant_name",
	"transaction_type",
	"location",
	"ip_address",
}

// ValidationError reports a structurally invalid batch header.
// It names every missing required column, not just the first.
type ValidationError struct {
	MissingColumns []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.MissingColumns, ", "))
}

// ParseBatch parses raw newline-delimited CSV text into transactions.
// The first line is the header. Values are split on "," with no quoting
// or escaping support; this is an accepted input constraint.
//
// Rows with an empty transaction_id or a non-finite amount are silently
// dropped. A header missing any required column fails with a
// *ValidationError before any row is processed.
func ParseBatch(raw string) ([]domain.Transaction, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return nil, &ValidationError{MissingColumns: append([]string(nil), RequiredColumns...)}
	}

	col, err := parseHeader(lines[0])
	if err != nil {
		return nil, err
	}

	var txs []domain.Transaction
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		tx, ok := parseRow(line, col)
		if ok {
			txs = append(txs, tx)
		}
	}

	return txs, nil
}

// parseHeader builds a column-name to position index and verifies all
// required columns are present.
func parseHeader(line string) (map[string]int, error) {
	fields := strings.Split(line, ",")
	col := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		if _, seen := col[name]; !seen {
			col[name] = i
		}
	}

	var missing []string
	for _, required := range RequiredColumns {
		if _, ok := col[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{MissingColumns: missing}
	}

	return col, nil
}

// parseRow maps one data row positionally to the header. The second
// return value is false when the row fails validation.
func parseRow(line string, col map[string]int) (domain.Transaction, bool) {
	fields := strings.Split(line, ",")

	get := func(name string) string {
		idx := col[name]
		if idx >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[idx])
	}

	id := get("transaction_id")
	if id == "" {
		return domain.Transaction{}, false
	}

	amount, err := strconv.ParseFloat(get("amount"), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.Transaction{}, false
	}

	return domain.Transaction{
		ID:           id,
		Date:         get("date"),
		Amount:       amount,
		AccountID:    get("account_id"),
		MerchantName: get("merchant_name"),
		Type:         get("transaction_type"),
		Location:     get("location"),
		IPAddress:    get("ip_address"),
	}, true
}

// splitLines splits on newlines, tolerating CRLF line endings and a
// trailing newline.
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.Trim(raw, "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}
