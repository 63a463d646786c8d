package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// LedgerStore is a PostgreSQL implementation of storage.StateStore and
// storage.EventStore.
// Uses five tables:
//   - ledger_params: single row with supply, policy, pending slots and governance
//   - ledger_balances, ledger_allowances, ledger_pools: one row per entry
//   - ledger_events: append-only journal keyed by seq
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new PostgreSQL ledger store.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Load returns the last committed state. Returns ErrNotFound if nothing has
// been committed yet.
func (s *LedgerStore) Load(ctx context.Context) (*domain.LedgerState, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := loadParams(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := loadBalances(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := loadAllowances(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := loadPools(ctx, tx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func loadParams(ctx context.Context, tx pgx.Tx) (*domain.LedgerState, error) {
	row := tx.QueryRow(ctx, `
		SELECT seq, total_supply::text, governance, fee_recipient,
		       policy_transfer_bp, policy_sell_bp, policy_buy_bp,
		       pending_tax_transfer_bp, pending_tax_sell_bp, pending_tax_buy_bp, pending_tax_effective_at,
		       pending_mint_recipient, pending_mint_amount::text, pending_mint_effective_at, pending_mint_reserved_in,
		       window_start, window_minted::text
		FROM ledger_params
		WHERE id = 1
	`)

	var (
		seq                           int64
		supply, governance, feeRecip  string
		pTransfer, pSell, pBuy        int32
		taxTransfer, taxSell, taxBuy  *int32
		taxEffective                  *int64
		mintRecipient, mintAmount     *string
		mintEffective, mintReservedIn *int64
		windowStart                   int64
		windowMinted                  string
	)
	err := row.Scan(
		&seq, &supply, &governance, &feeRecip,
		&pTransfer, &pSell, &pBuy,
		&taxTransfer, &taxSell, &taxBuy, &taxEffective,
		&mintRecipient, &mintAmount, &mintEffective, &mintReservedIn,
		&windowStart, &windowMinted,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load params: %w", err)
	}

	state := domain.NewLedgerState()
	state.Seq = uint64(seq)
	if state.TotalSupply, err = domain.ParseAmount(supply); err != nil {
		return nil, err
	}
	if state.Governance, err = parseAddressText(governance); err != nil {
		return nil, err
	}
	if state.FeeRecipient, err = parseAddressText(feeRecip); err != nil {
		return nil, err
	}
	state.Policy = domain.TaxPolicy{Transfer: uint16(pTransfer), Sell: uint16(pSell), Buy: uint16(pBuy)}

	if taxEffective != nil && taxTransfer != nil && taxSell != nil && taxBuy != nil {
		state.PendingTax = &domain.PendingTax{
			Policy:      domain.TaxPolicy{Transfer: uint16(*taxTransfer), Sell: uint16(*taxSell), Buy: uint16(*taxBuy)},
			EffectiveAt: *taxEffective,
		}
	}

	if mintRecipient != nil && mintAmount != nil && mintEffective != nil {
		p := &domain.PendingMint{EffectiveAt: *mintEffective}
		if p.Recipient, err = parseAddressText(*mintRecipient); err != nil {
			return nil, err
		}
		if p.Amount, err = parseAmountText(mintAmount); err != nil {
			return nil, err
		}
		if mintReservedIn != nil {
			p.ReservedIn = *mintReservedIn
		}
		state.PendingMint = p
	}

	state.Window.Start = windowStart
	if state.Window.Minted, err = domain.ParseAmount(windowMinted); err != nil {
		return nil, err
	}
	return state, nil
}

func loadBalances(ctx context.Context, tx pgx.Tx, state *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `SELECT address, amount::text FROM ledger_balances`)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address, amount string
		if err := rows.Scan(&address, &amount); err != nil {
			return err
		}
		addr, err := domain.ParseAddress(address)
		if err != nil {
			return err
		}
		if state.Balances[addr], err = domain.ParseAmount(amount); err != nil {
			return err
		}
	}
	return rows.Err()
}

func loadAllowances(ctx context.Context, tx pgx.Tx, state *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `SELECT owner, spender, amount::text FROM ledger_allowances`)
	if err != nil {
		return fmt.Errorf("load allowances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ownerText, spenderText, amount string
		if err := rows.Scan(&ownerText, &spenderText, &amount); err != nil {
			return err
		}
		owner, err := domain.ParseAddress(ownerText)
		if err != nil {
			return err
		}
		spender, err := domain.ParseAddress(spenderText)
		if err != nil {
			return err
		}
		v, err := domain.ParseAmount(amount)
		if err != nil {
			return err
		}
		m, ok := state.Allowances[owner]
		if !ok {
			m = make(map[domain.Address]*domain.Amount)
			state.Allowances[owner] = m
		}
		m[spender] = v
	}
	return rows.Err()
}

func loadPools(ctx context.Context, tx pgx.Tx, state *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `SELECT address FROM ledger_pools`)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return err
		}
		addr, err := domain.ParseAddress(address)
		if err != nil {
			return err
		}
		state.Pools[addr] = true
	}
	return rows.Err()
}

// Commit stores state and appends events in one transaction. The first commit
// writes the full state; later commits only write rows the events touched.
func (s *LedgerStore) Commit(ctx context.Context, state *domain.LedgerState, events []*domain.Event) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the params row so concurrent writers serialize on it.
	var prev int64
	first := false
	err = tx.QueryRow(ctx, `SELECT seq FROM ledger_params WHERE id = 1 FOR UPDATE`).Scan(&prev)
	if err != nil {
		if !isNotFoundError(err) {
			return fmt.Errorf("lock params: %w", err)
		}
		first = true
	}
	if err := storage.ValidateCommit(uint64(prev), state, events); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	if first {
		queueFullState(batch, state)
	} else {
		queueTouched(batch, state, storage.TouchedBy(events))
	}
	queueParams(batch, state)
	for _, e := range events {
		queueEvent(batch, e)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("commit statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func queueFullState(b *pgx.Batch, state *domain.LedgerState) {
	b.Queue(`DELETE FROM ledger_balances`)
	b.Queue(`DELETE FROM ledger_allowances`)
	b.Queue(`DELETE FROM ledger_pools`)
	for addr, amount := range state.Balances {
		if !amount.IsZero() {
			b.Queue(`INSERT INTO ledger_balances (address, amount) VALUES ($1, $2)`, addr.String(), amountText(amount))
		}
	}
	for owner, spenders := range state.Allowances {
		for spender, amount := range spenders {
			if !amount.IsZero() {
				b.Queue(`INSERT INTO ledger_allowances (owner, spender, amount) VALUES ($1, $2, $3)`,
					owner.String(), spender.String(), amountText(amount))
			}
		}
	}
	for _, addr := range state.PoolList() {
		b.Queue(`INSERT INTO ledger_pools (address) VALUES ($1)`, addr.String())
	}
}

func queueTouched(b *pgx.Batch, state *domain.LedgerState, touched storage.Touched) {
	for addr := range touched.Accounts {
		amount, ok := state.Balances[addr]
		if !ok || amount.IsZero() {
			b.Queue(`DELETE FROM ledger_balances WHERE address = $1`, addr.String())
			continue
		}
		b.Queue(`
			INSERT INTO ledger_balances (address, amount) VALUES ($1, $2)
			ON CONFLICT (address) DO UPDATE SET amount = EXCLUDED.amount
		`, addr.String(), amountText(amount))
	}

	for key := range touched.Allowances {
		owner, spender := key[0], key[1]
		var amount *domain.Amount
		if m, ok := state.Allowances[owner]; ok {
			amount = m[spender]
		}
		if amount == nil || amount.IsZero() {
			b.Queue(`DELETE FROM ledger_allowances WHERE owner = $1 AND spender = $2`, owner.String(), spender.String())
			continue
		}
		b.Queue(`
			INSERT INTO ledger_allowances (owner, spender, amount) VALUES ($1, $2, $3)
			ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount
		`, owner.String(), spender.String(), amountText(amount))
	}

	for addr := range touched.Pools {
		if state.Pools[addr] {
			b.Queue(`INSERT INTO ledger_pools (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, addr.String())
		} else {
			b.Queue(`DELETE FROM ledger_pools WHERE address = $1`, addr.String())
		}
	}
}

func queueParams(b *pgx.Batch, state *domain.LedgerState) {
	var (
		taxTransfer, taxSell, taxBuy  *int32
		taxEffective                  *int64
		mintRecipient, mintAmount     *string
		mintEffective, mintReservedIn *int64
	)
	if p := state.PendingTax; p != nil {
		t, s, b := int32(p.Policy.Transfer), int32(p.Policy.Sell), int32(p.Policy.Buy)
		taxTransfer, taxSell, taxBuy = &t, &s, &b
		taxEffective = &p.EffectiveAt
	}
	if p := state.PendingMint; p != nil {
		r := addressText(p.Recipient)
		mintRecipient = &r
		mintAmount = amountText(p.Amount)
		mintEffective = &p.EffectiveAt
		mintReservedIn = &p.ReservedIn
	}

	b.Queue(`
		INSERT INTO ledger_params (
			id, seq, total_supply, governance, fee_recipient,
			policy_transfer_bp, policy_sell_bp, policy_buy_bp,
			pending_tax_transfer_bp, pending_tax_sell_bp, pending_tax_buy_bp, pending_tax_effective_at,
			pending_mint_recipient, pending_mint_amount, pending_mint_effective_at, pending_mint_reserved_in,
			window_start, window_minted, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (id) DO UPDATE
		SET seq = EXCLUDED.seq,
		    total_supply = EXCLUDED.total_supply,
		    governance = EXCLUDED.governance,
		    fee_recipient = EXCLUDED.fee_recipient,
		    policy_transfer_bp = EXCLUDED.policy_transfer_bp,
		    policy_sell_bp = EXCLUDED.policy_sell_bp,
		    policy_buy_bp = EXCLUDED.policy_buy_bp,
		    pending_tax_transfer_bp = EXCLUDED.pending_tax_transfer_bp,
		    pending_tax_sell_bp = EXCLUDED.pending_tax_sell_bp,
		    pending_tax_buy_bp = EXCLUDED.pending_tax_buy_bp,
		    pending_tax_effective_at = EXCLUDED.pending_tax_effective_at,
		    pending_mint_recipient = EXCLUDED.pending_mint_recipient,
		    pending_mint_amount = EXCLUDED.pending_mint_amount,
		    pending_mint_effective_at = EXCLUDED.pending_mint_effective_at,
		    pending_mint_reserved_in = EXCLUDED.pending_mint_reserved_in,
		    window_start = EXCLUDED.window_start,
		    window_minted = EXCLUDED.window_minted,
		    updated_at = NOW()
	`,
		int64(state.Seq), amountText(state.TotalSupply), addressText(state.Governance), addressText(state.FeeRecipient),
		int32(state.Policy.Transfer), int32(state.Policy.Sell), int32(state.Policy.Buy),
		taxTransfer, taxSell, taxBuy, taxEffective,
		mintRecipient, mintAmount, mintEffective, mintReservedIn,
		state.Window.Start, amountText(domain.CloneAmount(state.Window.Minted)),
	)
}

func queueEvent(b *pgx.Batch, e *domain.Event) {
	var pTransfer, pSell, pBuy *int32
	if e.Policy != nil {
		t, s, by := int32(e.Policy.Transfer), int32(e.Policy.Sell), int32(e.Policy.Buy)
		pTransfer, pSell, pBuy = &t, &s, &by
	}
	b.Queue(`
		INSERT INTO ledger_events (
			seq, event_id, kind, actor, timestamp_ms,
			from_address, to_address, amount, tax, net,
			classification, disposition, fee_recipient,
			policy_transfer_bp, policy_sell_bp, policy_buy_bp,
			effective_at, total_supply
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		int64(e.Seq), e.EventID, string(e.Kind), addressText(e.Actor), e.Timestamp,
		addressText(e.From), addressText(e.To), amountText(e.Amount), amountText(e.Tax), amountText(e.Net),
		string(e.Classification), string(e.Disposition), addressText(e.FeeRecipient),
		pTransfer, pSell, pBuy,
		e.EffectiveAt, amountText(domain.CloneAmount(e.TotalSupply)),
	)
}

const eventColumns = `
	seq, event_id, kind, actor, timestamp_ms,
	from_address, to_address, amount::text, tax::text, net::text,
	classification, disposition, fee_recipient,
	policy_transfer_bp, policy_sell_bp, policy_buy_bp,
	effective_at, total_supply::text
`

// GetBySeqRange retrieves events with seq in [from, to], ordered by seq ASC.
func (s *LedgerStore) GetBySeqRange(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	if to < from {
		return nil, storage.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM ledger_events
		WHERE seq >= $1 AND seq <= $2
		ORDER BY seq ASC
	`, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query events by seq: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByAccount retrieves the most recent limit events touching addr, ordered by seq ASC.
func (s *LedgerStore) GetByAccount(ctx context.Context, addr domain.Address, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+eventColumns+`
			FROM ledger_events
			WHERE from_address = $1 OR to_address = $1 OR actor = $1
			   OR (fee_recipient = $1 AND disposition = 'COLLECTED')
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`, addressText(addr), limit)
	if err != nil {
		return nil, fmt.Errorf("query events by account: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSeq returns the highest committed seq.
func (s *LedgerStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return uint64(seq), nil
}

func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e                          domain.Event
		seq                        int64
		kind, actor, from, to, fee string
		class, disposition         string
		amount, tax, net           *string
		pTransfer, pSell, pBuy     *int32
		supply                     string
	)
	err := row.Scan(
		&seq, &e.EventID, &kind, &actor, &e.Timestamp,
		&from, &to, &amount, &tax, &net,
		&class, &disposition, &fee,
		&pTransfer, &pSell, &pBuy,
		&e.EffectiveAt, &supply,
	)
	if err != nil {
		return nil, err
	}

	e.Seq = uint64(seq)
	e.Kind = domain.EventKind(kind)
	e.Classification = domain.Classification(class)
	e.Disposition = domain.TaxDisposition(disposition)
	for _, f := range []struct {
		dst *domain.Address
		src string
	}{{&e.Actor, actor}, {&e.From, from}, {&e.To, to}, {&e.FeeRecipient, fee}} {
		if *f.dst, err = parseAddressText(f.src); err != nil {
			return nil, err
		}
	}
	if e.Amount, err = parseAmountText(amount); err != nil {
		return nil, err
	}
	if e.Tax, err = parseAmountText(tax); err != nil {
		return nil, err
	}
	if e.Net, err = parseAmountText(net); err != nil {
		return nil, err
	}
	if e.TotalSupply, err = domain.ParseAmount(supply); err != nil {
		return nil, err
	}
	if pTransfer != nil && pSell != nil && pBuy != nil {
		e.Policy = &domain.TaxPolicy{Transfer: uint16(*pTransfer), Sell: uint16(*pSell), Buy: uint16(*pBuy)}
	}
	return &e, nil
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
