package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"account-ledger/internal/audit"
	"account-ledger/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	var (
		inPath = flag.String("in", "", "CSV exported from transaction_log")
		dsn    = flag.String("dsn", "", "read the log straight from Postgres instead of -in")
		out    = flag.String("out", "", "with -dsn, also write the export to this file")
	)
	flag.Parse()

	if (*inPath == "") == (*dsn == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -in or -dsn is required")
		os.Exit(2)
	}

	var src io.Reader
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(2)
		}
		defer f.Close()
		src = bufio.NewReader(f)
	} else {
		buf, err := export(*dsn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(2)
		}
		if *out != "" {
			if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
				fmt.Fprintln(os.Stderr, "write:", err)
				os.Exit(2)
			}
		}
		src = buf
	}

	rep, err := audit.Verify(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !rep.OK() {
		for _, p := range rep.Problems {
			fmt.Fprintln(os.Stderr, "FAIL:", p)
		}
		fmt.Fprintf(os.Stderr, "FAIL: %d of %d transfers broken\n", len(rep.Problems), rep.Transfers)
		os.Exit(1)
	}

	fmt.Printf("OK: %d transfers paired (%d rows)\n", rep.Transfers, rep.Rows)
}

func export(dsn string) (*bytes.Buffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	var buf bytes.Buffer
	if _, err := store.New(pool).ExportTransactionLog(ctx, &buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
