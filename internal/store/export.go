package store

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"account-ledger/internal/audit"
)

// ExportTransactionLog streams the whole log as CSV in insertion order, using
// the column layout audit.Verify reads.
func (s *Store) ExportTransactionLog(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT reference_code, operation, operating_account_id,
		        COALESCE(counterpart_account_id, ''), currency, amount::text, created_at_utc
		   FROM transaction_log
		  ORDER BY seq`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(audit.Columns); err != nil {
		return 0, err
	}

	n := 0
	for rows.Next() {
		var (
			ref, op, account, counterpart, currency, amount string
			at                                              time.Time
		)
		if err := rows.Scan(&ref, &op, &account, &counterpart, &currency, &amount, &at); err != nil {
			return n, err
		}
		rec := []string{ref, op, account, counterpart, currency, amount, at.UTC().Format(time.RFC3339Nano)}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
