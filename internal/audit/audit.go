// Package audit checks an exported transaction log for transfer pairing.
//
// Every reference code must own exactly one DEDUCT and one ADD. The two sides
// carry the same currency and amount, name each other as counterpart, and the
// DEDUCT is timestamped strictly before the ADD.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"account-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Columns lists the CSV header the verifier expects, in export order.
var Columns = []string{
	"reference_code",
	"operation",
	"operating_account_id",
	"counterpart_account_id",
	"currency_code",
	"amount",
	"created_at_utc",
}

type Problem struct {
	ReferenceCode string
	Reason        string
}

func (p Problem) String() string { return p.ReferenceCode + ": " + p.Reason }

type Report struct {
	Rows      int
	Transfers int
	Problems  []Problem
}

func (r Report) OK() bool { return len(r.Problems) == 0 }

type side struct {
	account      string
	counterpart  string
	currency     string
	amount       decimal.Decimal
	createdAtUTC time.Time
}

type pair struct {
	deducts []side
	adds    []side
}

// Verify reads the export and reports every broken pair. A malformed file is
// returned as an error; pairing failures are collected in the report.
func Verify(r io.Reader) (Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Report{}, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, need := range Columns {
		if _, ok := col[need]; !ok {
			return Report{}, fmt.Errorf("missing column: %s", need)
		}
	}

	var (
		rep    Report
		pairs  = map[string]*pair{}
		lineNo = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNo++
		if err != nil {
			return rep, fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < len(header) {
			return rep, fmt.Errorf("line %d: expected %d fields, got %d", lineNo, len(header), len(rec))
		}

		get := func(name string) string { return strings.TrimSpace(rec[col[name]]) }

		amount, err := decimal.NewFromString(get("amount"))
		if err != nil {
			return rep, fmt.Errorf("line %d: invalid amount: %w", lineNo, err)
		}
		at, err := time.Parse(time.RFC3339Nano, get("created_at_utc"))
		if err != nil {
			return rep, fmt.Errorf("line %d: invalid created_at_utc: %w", lineNo, err)
		}

		ref := get("reference_code")
		p, ok := pairs[ref]
		if !ok {
			p = &pair{}
			pairs[ref] = p
		}
		s := side{
			account:      get("operating_account_id"),
			counterpart:  get("counterpart_account_id"),
			currency:     strings.ToUpper(get("currency_code")),
			amount:       amount,
			createdAtUTC: at.UTC(),
		}
		switch domain.Operation(strings.ToUpper(get("operation"))) {
		case domain.OperationDeduct:
			p.deducts = append(p.deducts, s)
		case domain.OperationAdd:
			p.adds = append(p.adds, s)
		default:
			return rep, fmt.Errorf("line %d: unknown operation %q", lineNo, get("operation"))
		}
		rep.Rows++
	}

	refs := make([]string, 0, len(pairs))
	for ref := range pairs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		rep.Transfers++
		if reason := checkPair(ref, pairs[ref]); reason != "" {
			rep.Problems = append(rep.Problems, Problem{ReferenceCode: ref, Reason: reason})
		}
	}
	return rep, nil
}

func checkPair(ref string, p *pair) string {
	if !strings.HasPrefix(ref, "TRANSFER_") {
		return "reference code lacks TRANSFER_ prefix"
	}
	if len(p.deducts) != 1 || len(p.adds) != 1 {
		return fmt.Sprintf("expected 1 DEDUCT and 1 ADD, got %d and %d", len(p.deducts), len(p.adds))
	}
	d, a := p.deducts[0], p.adds[0]
	switch {
	case d.currency != a.currency:
		return fmt.Sprintf("currency differs: %s vs %s", d.currency, a.currency)
	case !d.amount.Equal(a.amount):
		return fmt.Sprintf("amount differs: %s vs %s", d.amount, a.amount)
	case !d.amount.IsPositive():
		return "amount is not positive"
	case d.counterpart != a.account || a.counterpart != d.account:
		return fmt.Sprintf("counterparts not mirrored: %s->%s vs %s->%s", d.account, d.counterpart, a.account, a.counterpart)
	case !d.createdAtUTC.Before(a.createdAtUTC):
		return "DEDUCT is not before ADD"
	}
	return ""
}
