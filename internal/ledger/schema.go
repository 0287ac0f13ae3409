package ledger

const schemaDDL = `
CREATE TABLE IF NOT EXISTS broker (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	author      TEXT NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	credentials TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_broker_author ON broker(author);

CREATE TABLE IF NOT EXISTS portfolio (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	author             TEXT NOT NULL,
	enabled            BOOLEAN NOT NULL DEFAULT 0,
	broker_id          INTEGER NOT NULL REFERENCES broker(id),
	name               TEXT NOT NULL,
	shortname          TEXT NOT NULL,
	module             TEXT NOT NULL,
	schedule           TEXT NOT NULL,
	start_timestamp    DATETIME NOT NULL,
	last_run_timestamp DATETIME
);

CREATE INDEX IF NOT EXISTS idx_portfolio_author ON portfolio(author);
CREATE INDEX IF NOT EXISTS idx_portfolio_enabled ON portfolio(enabled);

CREATE TABLE IF NOT EXISTS portfolio_run (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id INTEGER NOT NULL REFERENCES portfolio(id),
	status       TEXT NOT NULL,
	timestamp    DATETIME NOT NULL,
	error        TEXT,
	notified     BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_portfolio ON portfolio_run(portfolio_id);

CREATE TABLE IF NOT EXISTS portfolio_order (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id     INTEGER NOT NULL REFERENCES portfolio(id),
	run_id           INTEGER NOT NULL REFERENCES portfolio_run(id),
	status           TEXT NOT NULL,
	ticker           TEXT NOT NULL,
	side             TEXT NOT NULL,
	create_timestamp DATETIME NOT NULL,
	notional         TEXT,
	quantity         TEXT,
	fill_timestamp   DATETIME,
	fill_quantity    TEXT,
	fill_price       TEXT,
	fill_fee         TEXT,
	broker_order_id  TEXT,
	notified         BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_order_portfolio_status ON portfolio_order(portfolio_id, status);

CREATE TABLE IF NOT EXISTS portfolio_cash (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id    INTEGER NOT NULL REFERENCES portfolio(id),
	event           TEXT NOT NULL,
	event_timestamp DATETIME NOT NULL,
	amount          TEXT NOT NULL,
	order_id        INTEGER REFERENCES portfolio_order(id)
);

CREATE INDEX IF NOT EXISTS idx_cash_portfolio ON portfolio_cash(portfolio_id);

CREATE TABLE IF NOT EXISTS portfolio_position (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id    INTEGER NOT NULL REFERENCES portfolio(id),
	event           TEXT NOT NULL,
	event_timestamp DATETIME NOT NULL,
	ticker          TEXT NOT NULL,
	amount          TEXT NOT NULL,
	order_id        INTEGER REFERENCES portfolio_order(id)
);

CREATE INDEX IF NOT EXISTS idx_position_portfolio ON portfolio_position(portfolio_id);
`
