package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubRow feeds canned column values to scanPosition. A nil value leaves
// the destination untouched, the way a NULL scanned into a pointer does.
type stubRow struct {
	vals []any
}

func (r stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		if r.vals[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

func TestScanPosition_OpenRowNullableColumns(t *testing.T) {
	opened := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	row := stubRow{vals: []any{
		"p1", "EURUSD", model.Long,
		"1", "1.0851", "0",
		nil, nil, "0",
		model.PositionOpen, model.CloseReason(""), "", "",
		opened, nil,
	}}

	p, err := scanPosition(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !p.ClosedAt.IsZero() {
		t.Errorf("NULL closed_at must scan to the zero time, got %s", p.ClosedAt)
	}
	if p.StopLoss != nil || p.TakeProfit != nil {
		t.Error("NULL stop-loss/take-profit must scan to nil")
	}
	if !p.OpenPrice.Equal(d(1.0851)) || !p.OpenedAt.Equal(opened) {
		t.Errorf("unexpected scan result: %+v", p)
	}
}

func TestScanPosition_ClosedRow(t *testing.T) {
	opened := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)
	sl := "1.0800"
	row := stubRow{vals: []any{
		"p1", "EURUSD", model.Long,
		"1", "1.0851", "1.0950",
		&sl, nil, "990",
		model.PositionClosed, model.CloseManual, "c1", "",
		opened, &closed,
	}}

	p, err := scanPosition(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !p.ClosedAt.Equal(closed) {
		t.Errorf("expected closed_at %s, got %s", closed, p.ClosedAt)
	}
	if p.StopLoss == nil || !p.StopLoss.Equal(d(1.0800)) {
		t.Errorf("expected stop-loss 1.0800, got %v", p.StopLoss)
	}
	if !p.PnL.Equal(d(990)) || p.CloseReason != model.CloseManual {
		t.Errorf("unexpected scan result: %+v", p)
	}
}
