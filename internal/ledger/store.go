package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is the order ledger: portfolios, brokers, runs, orders, and the
// append-only cash/position event streams they hang off.
type Store struct {
	queries
	db *sql.DB
}

// Tx is a single-portfolio unit of work. The trader opens one per
// portfolio per poll so one portfolio's failure cannot poison another's.
type Tx struct {
	queries
	tx *sql.Tx
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent readers (notifier and tradectl share the file)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Run schema migration
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{queries: queries{db: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}
	return &Tx{queries: queries{db: tx}, tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries every typed ledger operation; it is embedded in both
// Store and Tx so callers get the same surface either way.
type queries struct {
	db dbtx
}

const brokerColumns = "id, author, name, type, credentials"

func scanBroker(row interface{ Scan(...any) error }) (Broker, error) {
	var b Broker
	err := row.Scan(&b.ID, &b.Author, &b.Name, &b.Type, &b.Credentials)
	return b, err
}

func (q queries) FetchBroker(ctx context.Context, author string, id int64) (Broker, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+brokerColumns+` FROM broker WHERE id = ? AND author = ?`, id, author)
	b, err := scanBroker(row)
	if err != nil {
		return Broker{}, fmt.Errorf("fetching broker %d: %w", id, err)
	}
	return b, nil
}

func (q queries) FetchBrokers(ctx context.Context, author string) ([]Broker, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+brokerColumns+` FROM broker WHERE author = ? ORDER BY id`, author)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brokers []Broker
	for rows.Next() {
		b, err := scanBroker(rows)
		if err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

func (q queries) FetchPortfolioBroker(ctx context.Context, pfID int64) (Broker, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT b.id, b.author, b.name, b.type, b.credentials
		FROM portfolio pf
		INNER JOIN broker b ON pf.broker_id = b.id
		WHERE pf.id = ?`, pfID)
	b, err := scanBroker(row)
	if err != nil {
		return Broker{}, fmt.Errorf("fetching broker for portfolio %d: %w", pfID, err)
	}
	return b, nil
}

const portfolioColumns = "id, author, enabled, broker_id, name, shortname, module, schedule, start_timestamp, last_run_timestamp"

func scanPortfolio(row interface{ Scan(...any) error }) (Portfolio, error) {
	var p Portfolio
	err := row.Scan(&p.ID, &p.Author, &p.Enabled, &p.BrokerID, &p.Name,
		&p.Shortname, &p.Module, &p.Schedule, &p.StartTimestamp, &p.LastRunTimestamp)
	return p, err
}

func (q queries) FetchPortfolio(ctx context.Context, author string, id int64) (Portfolio, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolio WHERE id = ? AND author = ?`, id, author)
	p, err := scanPortfolio(row)
	if err != nil {
		return Portfolio{}, fmt.Errorf("fetching portfolio %d: %w", id, err)
	}
	return p, nil
}

func (q queries) FetchPortfolios(ctx context.Context, author string) ([]Portfolio, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolio WHERE author = ? ORDER BY id`, author)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPortfolios(rows)
}

func (q queries) FetchEnabledPortfolios(ctx context.Context) ([]Portfolio, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolio WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPortfolios(rows)
}

func collectPortfolios(rows *sql.Rows) ([]Portfolio, error) {
	var pfs []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		pfs = append(pfs, p)
	}
	return pfs, rows.Err()
}

// FetchAvailableCash sums the cash event stream for a portfolio. Zero when
// the portfolio has no events yet.
func (q queries) FetchAvailableCash(ctx context.Context, pfID int64) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT amount FROM portfolio_cash WHERE portfolio_id = ?`, pfID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// FetchPositions sums the signed position event stream per ticker.
func (q queries) FetchPositions(ctx context.Context, pfID int64) (map[string]decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT ticker, amount FROM portfolio_position WHERE portfolio_id = ?`, pfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make(map[string]decimal.Decimal)
	for rows.Next() {
		var ticker string
		var amount decimal.Decimal
		if err := rows.Scan(&ticker, &amount); err != nil {
			return nil, err
		}
		positions[ticker] = positions[ticker].Add(amount)
	}
	return positions, rows.Err()
}

const runColumns = "id, portfolio_id, status, timestamp, error, notified"

func (q queries) FetchRuns(ctx context.Context, pfID int64) ([]PortfolioRun, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM portfolio_run WHERE portfolio_id = ? ORDER BY id`, pfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PortfolioRun
	for rows.Next() {
		var r PortfolioRun
		if err := rows.Scan(&r.ID, &r.PortfolioID, &r.Status, &r.Timestamp, &r.Error, &r.Notified); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const orderColumns = "id, portfolio_id, run_id, status, ticker, side, create_timestamp, notional, quantity, fill_timestamp, fill_quantity, fill_price, fill_fee, broker_order_id, notified"

func (q queries) FetchOrdersByStatus(ctx context.Context, pfID int64, status string) ([]PortfolioOrder, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM portfolio_order WHERE portfolio_id = ? AND status = ? ORDER BY id`,
		pfID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PortfolioOrder
	for rows.Next() {
		var o PortfolioOrder
		if err := rows.Scan(&o.ID, &o.PortfolioID, &o.RunID, &o.Status, &o.Ticker, &o.Side,
			&o.CreateTimestamp, &o.Notional, &o.Quantity, &o.FillTimestamp, &o.FillQuantity,
			&o.FillPrice, &o.FillFee, &o.BrokerOrderID, &o.Notified); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (q queries) FetchCashHistory(ctx context.Context, pfID int64) ([]PortfolioCash, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, portfolio_id, event, event_timestamp, amount, order_id
		FROM portfolio_cash WHERE portfolio_id = ? ORDER BY event_timestamp`, pfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PortfolioCash
	for rows.Next() {
		var c PortfolioCash
		if err := rows.Scan(&c.ID, &c.PortfolioID, &c.Event, &c.EventTimestamp, &c.Amount, &c.OrderID); err != nil {
			return nil, err
		}
		events = append(events, c)
	}
	return events, rows.Err()
}

func (q queries) FetchPositionHistory(ctx context.Context, pfID int64) ([]PortfolioPosition, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, portfolio_id, event, event_timestamp, ticker, amount, order_id
		FROM portfolio_position WHERE portfolio_id = ? ORDER BY event_timestamp`, pfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PortfolioPosition
	for rows.Next() {
		var p PortfolioPosition
		if err := rows.Scan(&p.ID, &p.PortfolioID, &p.Event, &p.EventTimestamp, &p.Ticker, &p.Amount, &p.OrderID); err != nil {
			return nil, err
		}
		events = append(events, p)
	}
	return events, rows.Err()
}

func (q queries) InsertBroker(ctx context.Context, b Broker) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO broker (author, name, type, credentials)
		VALUES (?, ?, ?, ?)`,
		b.Author, b.Name, b.Type, b.Credentials)
	if err != nil {
		return 0, fmt.Errorf("inserting broker: %w", err)
	}
	return res.LastInsertId()
}

func (q queries) InsertPortfolio(ctx context.Context, p Portfolio) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio (author, enabled, broker_id, name, shortname, module, schedule, start_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Author, p.Enabled, p.BrokerID, p.Name, p.Shortname, p.Module, p.Schedule, p.StartTimestamp)
	if err != nil {
		return 0, fmt.Errorf("inserting portfolio: %w", err)
	}
	return res.LastInsertId()
}

func (q queries) UpdatePortfolio(ctx context.Context, p Portfolio) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE portfolio SET enabled = ?, last_run_timestamp = ? WHERE id = ?`,
		p.Enabled, p.LastRunTimestamp, p.ID)
	if err != nil {
		return fmt.Errorf("updating portfolio %d: %w", p.ID, err)
	}
	return nil
}

func (q queries) InsertRun(ctx context.Context, r PortfolioRun) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio_run (portfolio_id, status, timestamp, error, notified)
		VALUES (?, ?, ?, ?, ?)`,
		r.PortfolioID, r.Status, r.Timestamp, r.Error, r.Notified)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

func (q queries) UpdateRun(ctx context.Context, r PortfolioRun) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE portfolio_run SET notified = ? WHERE id = ?`, r.Notified, r.ID)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", r.ID, err)
	}
	return nil
}

func (q queries) InsertOrder(ctx context.Context, o PortfolioOrder) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio_order (portfolio_id, run_id, status, ticker, side, create_timestamp, notional, quantity, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.PortfolioID, o.RunID, o.Status, o.Ticker, o.Side, o.CreateTimestamp,
		o.Notional, o.Quantity, o.Notified)
	if err != nil {
		return 0, fmt.Errorf("inserting order: %w", err)
	}
	return res.LastInsertId()
}

func (q queries) UpdateOrder(ctx context.Context, o PortfolioOrder) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE portfolio_order
		SET status = ?, fill_timestamp = ?, fill_quantity = ?, fill_price = ?,
			fill_fee = ?, broker_order_id = ?, notified = ?
		WHERE id = ?`,
		o.Status, o.FillTimestamp, o.FillQuantity, o.FillPrice,
		o.FillFee, o.BrokerOrderID, o.Notified, o.ID)
	if err != nil {
		return fmt.Errorf("updating order %d: %w", o.ID, err)
	}
	return nil
}

func (q queries) InsertCash(ctx context.Context, c PortfolioCash) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio_cash (portfolio_id, event, event_timestamp, amount, order_id)
		VALUES (?, ?, ?, ?, ?)`,
		c.PortfolioID, c.Event, c.EventTimestamp, c.Amount, c.OrderID)
	if err != nil {
		return 0, fmt.Errorf("inserting cash event: %w", err)
	}
	return res.LastInsertId()
}

func (q queries) InsertPosition(ctx context.Context, p PortfolioPosition) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio_position (portfolio_id, event, event_timestamp, ticker, amount, order_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.PortfolioID, p.Event, p.EventTimestamp, p.Ticker, p.Amount, p.OrderID)
	if err != nil {
		return 0, fmt.Errorf("inserting position event: %w", err)
	}
	return res.LastInsertId()
}
