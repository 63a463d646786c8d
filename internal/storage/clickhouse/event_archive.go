package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventArchive implements storage.EventArchive using ClickHouse.
// The ledger_events table is a ReplacingMergeTree keyed by seq, so archiving
// the same seq twice keeps one row and reads use FINAL.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

// InsertBulk archives events in one batch.
func (s *EventArchive) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.Seq == 0 {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			seq, event_id, kind, actor, timestamp_ms, from_address, to_address,
			amount, tax, net, classification, disposition, fee_recipient, total_supply
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.Seq, e.EventID, string(e.Kind), addressText(e.Actor), e.Timestamp,
			addressText(e.From), addressText(e.To),
			bigAmount(e.Amount), bigAmount(e.Tax), bigAmount(e.Net),
			string(e.Classification), string(e.Disposition), addressText(e.FeeRecipient),
			bigAmount(e.TotalSupply),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetTaxTotals aggregates taxed transfers per UTC day in [start, end).
func (s *EventArchive) GetTaxTotals(ctx context.Context, start, end int64) ([]*domain.TaxTotal, error) {
	if end < start {
		return nil, storage.ErrInvalidInput
	}

	// UInt256 sums are returned as text and parsed back.
	query := `
		SELECT
			toInt64(intDiv(timestamp_ms, 86400000) * 86400000) AS day,
			countIf(tax > 0) AS transfers,
			toString(sumIf(tax, disposition = 'COLLECTED')) AS collected,
			toString(sumIf(tax, disposition = 'BURNED')) AS burned,
			toString(sum(amount)) AS volume
		FROM ledger_events FINAL
		WHERE kind = 'TRANSFER' AND classification != 'UNTAXED'
		  AND timestamp_ms >= ? AND timestamp_ms < ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query tax totals: %w", err)
	}
	defer rows.Close()

	return scanTaxTotals(rows)
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTaxTotals(rows chRows) ([]*domain.TaxTotal, error) {
	var totals []*domain.TaxTotal

	for rows.Next() {
		var t domain.TaxTotal
		var collected, burned, volume string

		if err := rows.Scan(&t.Day, &t.Transfers, &collected, &burned, &volume); err != nil {
			return nil, fmt.Errorf("scan tax totals row: %w", err)
		}

		var err error
		if t.Collected, err = domain.ParseAmount(collected); err != nil {
			return nil, err
		}
		if t.Burned, err = domain.ParseAmount(burned); err != nil {
			return nil, err
		}
		if t.Volume, err = domain.ParseAmount(volume); err != nil {
			return nil, err
		}
		totals = append(totals, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tax totals rows: %w", err)
	}

	return totals, nil
}

// bigAmount converts an amount for a UInt256 column. Nil is stored as 0.
func bigAmount(a *domain.Amount) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return a.ToBig()
}

func addressText(a domain.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}
