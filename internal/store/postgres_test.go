package store

import (
	"errors"
	"strconv"
	"testing"
)

// fakeRows serves ledger_entries rows as scanned by Entries.
type fakeRows struct {
	rows [][]any
	next int
}

func (f *fakeRows) Next() bool {
	f.next++
	return f.next <= len(f.rows)
}

func (f *fakeRows) Scan(dest ...interface{}) error {
	row := f.rows[f.next-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		}
	}
	return nil
}

func (f *fakeRows) Err() error { return nil }

func entryRow(id, amount, price string) []any {
	return []any{id, "sell", "alice", "main", "SOL", int64(1), amount, price, int64(1_700_000_000)}
}

func TestScanLedgerEntries(t *testing.T) {
	entries, err := scanLedgerEntries(&fakeRows{rows: [][]any{
		entryRow("e1", "18446744073709551615", "140000000"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Amount != 18446744073709551615 || entries[0].Price != 140000000 {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestScanLedgerEntries_Overflow(t *testing.T) {
	tests := []struct {
		name          string
		amount, price string
	}{
		{"amount", "18446744073709551616", "1"},
		{"price", "1", "99999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scanLedgerEntries(&fakeRows{rows: [][]any{entryRow("e1", tt.amount, tt.price)}})
			if !errors.Is(err, strconv.ErrRange) {
				t.Errorf("expected a range error, got %v", err)
			}
		})
	}
}
