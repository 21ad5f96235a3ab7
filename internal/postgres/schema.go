package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock_levels (
	product_id TEXT NOT NULL,
	size       TEXT NOT NULL,
	stock      INT  NOT NULL DEFAULT 0,
	reserved   INT  NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (product_id, size),
	CHECK (stock >= 0),
	CHECK (reserved >= 0 AND reserved <= stock)
);

CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_ref   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_active_expiry
	ON reservations (expires_at) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_reservations_session
	ON reservations (session_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS reservation_items (
	reservation_id TEXT NOT NULL REFERENCES reservations (id),
	product_id     TEXT NOT NULL,
	size           TEXT NOT NULL,
	qty            INT  NOT NULL CHECK (qty > 0),
	PRIMARY KEY (reservation_id, product_id, size)
);

CREATE INDEX IF NOT EXISTS idx_reservation_items_variant
	ON reservation_items (product_id, size);

CREATE TABLE IF NOT EXISTS checkout_sessions (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	stock_reserved BOOLEAN NOT NULL DEFAULT false,
	gateway_tx_id  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	user_ref    TEXT NOT NULL,
	total_cents BIGINT NOT NULL,
	status      TEXT NOT NULL,
	payment_ref TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_stale_drafts
	ON orders (created_at) WHERE status = 'DRAFT';

CREATE TABLE IF NOT EXISTS order_items (
	order_id    TEXT NOT NULL REFERENCES orders (id),
	product_id  TEXT NOT NULL,
	size        TEXT NOT NULL,
	qty         INT  NOT NULL CHECK (qty > 0),
	price_cents BIGINT NOT NULL,
	PRIMARY KEY (order_id, product_id, size)
);

CREATE TABLE IF NOT EXISTS webhook_keys (
	key           TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	raw_event     BYTEA,
	response_code INT NOT NULL DEFAULT 0,
	response_body BYTEA,
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema. Every statement is idempotent, so running it on
// boot is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
