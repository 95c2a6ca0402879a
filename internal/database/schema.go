package database

import (
	"context"
	"database/sql"
	"fmt"
)

// tables is applied in order; later tables reference earlier ones.
var tables = []struct {
	name string
	ddl  string
}{
	{"users", `
CREATE TABLE IF NOT EXISTS users (
	id            CHAR(36)     NOT NULL PRIMARY KEY,
	email         VARCHAR(255) NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	role          VARCHAR(16)  NOT NULL,
	is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
	created_at    DATETIME(6)  NOT NULL,
	updated_at    DATETIME(6)  NOT NULL,
	UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB`},
	{"refresh_tokens", `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         CHAR(36)    NOT NULL PRIMARY KEY,
	user_id    CHAR(36)    NOT NULL,
	token_hash CHAR(64)    NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	revoked_at DATETIME(6) NULL,
	created_at DATETIME(6) NOT NULL,
	UNIQUE KEY uq_refresh_tokens_hash (token_hash),
	KEY idx_refresh_tokens_user (user_id),
	CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id)
) ENGINE=InnoDB`},
	{"inventory_pools", `
CREATE TABLE IF NOT EXISTS inventory_pools (
	id         CHAR(36)     NOT NULL PRIMARY KEY,
	vendor_id  CHAR(36)     NOT NULL,
	kind       VARCHAR(16)  NOT NULL,
	ref        VARCHAR(128) NOT NULL,
	title      VARCHAR(255) NOT NULL,
	starts_at  DATETIME(6)  NULL,
	currency   CHAR(3)      NOT NULL,
	unit_price BIGINT       NOT NULL,
	total      INT          NOT NULL,
	held       INT          NOT NULL DEFAULT 0,
	active     BOOLEAN      NOT NULL DEFAULT TRUE,
	version    BIGINT       NOT NULL DEFAULT 1,
	created_at DATETIME(6)  NOT NULL,
	updated_at DATETIME(6)  NOT NULL,
	KEY idx_inventory_pools_vendor (vendor_id),
	CONSTRAINT chk_inventory_pools_held CHECK (held >= 0 AND held <= total)
) ENGINE=InnoDB`},
	{"pool_units", `
CREATE TABLE IF NOT EXISTS pool_units (
	pool_id CHAR(36)    NOT NULL,
	unit_id VARCHAR(64) NOT NULL,
	PRIMARY KEY (pool_id, unit_id),
	CONSTRAINT fk_pool_units_pool FOREIGN KEY (pool_id) REFERENCES inventory_pools (id)
) ENGINE=InnoDB`},
	{"holds", `
CREATE TABLE IF NOT EXISTS holds (
	id          CHAR(36)    NOT NULL PRIMARY KEY,
	pool_id     CHAR(36)    NOT NULL,
	booking_id  CHAR(36)    NOT NULL,
	units       JSON        NOT NULL,
	status      VARCHAR(16) NOT NULL,
	expires_at  DATETIME(6) NOT NULL,
	created_at  DATETIME(6) NOT NULL,
	released_at DATETIME(6) NULL,
	KEY idx_holds_status_expiry (status, expires_at),
	KEY idx_holds_booking (booking_id),
	CONSTRAINT fk_holds_pool FOREIGN KEY (pool_id) REFERENCES inventory_pools (id)
) ENGINE=InnoDB`},
	// The primary key is the "at most one hold per unit" guarantee.
	{"held_units", `
CREATE TABLE IF NOT EXISTS held_units (
	pool_id CHAR(36)    NOT NULL,
	unit_id VARCHAR(64) NOT NULL,
	hold_id CHAR(36)    NOT NULL,
	PRIMARY KEY (pool_id, unit_id),
	KEY idx_held_units_hold (hold_id)
) ENGINE=InnoDB`},
	{"bookings", `
CREATE TABLE IF NOT EXISTS bookings (
	id                CHAR(36)     NOT NULL PRIMARY KEY,
	user_id           CHAR(36)     NOT NULL,
	vendor_id         CHAR(36)     NOT NULL,
	kind              VARCHAR(16)  NOT NULL,
	pool_id           CHAR(36)     NULL,
	hold_id           CHAR(36)     NULL,
	units             JSON         NULL,
	media_ref         VARCHAR(128) NULL,
	purchase_type     VARCHAR(16)  NULL,
	amount            BIGINT       NOT NULL,
	currency          CHAR(3)      NOT NULL,
	status            VARCHAR(16)  NOT NULL,
	payment_status    VARCHAR(16)  NOT NULL,
	gateway           VARCHAR(32)  NULL,
	gateway_ref       VARCHAR(64)  NOT NULL,
	credit_entry_id   CHAR(36)     NULL,
	expires_at        DATETIME(6)  NOT NULL,
	completed_at      DATETIME(6)  NULL,
	cancelled_at      DATETIME(6)  NULL,
	access_expires_at DATETIME(6)  NULL,
	version           BIGINT       NOT NULL DEFAULT 1,
	created_at        DATETIME(6)  NOT NULL,
	updated_at        DATETIME(6)  NOT NULL,
	UNIQUE KEY uq_bookings_gateway_ref (gateway_ref),
	KEY idx_bookings_user (user_id, created_at),
	KEY idx_bookings_vendor (vendor_id, created_at),
	KEY idx_bookings_hold (hold_id),
	KEY idx_bookings_media (user_id, media_ref, status)
) ENGINE=InnoDB`},
	{"ledger_accounts", `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	id                 CHAR(36)    NOT NULL PRIMARY KEY,
	owner_id           VARCHAR(64) NOT NULL,
	currency           CHAR(3)     NOT NULL,
	balance            BIGINT      NOT NULL DEFAULT 0,
	pending_balance    BIGINT      NOT NULL DEFAULT 0,
	processing_balance BIGINT      NOT NULL DEFAULT 0,
	total_earnings     BIGINT      NOT NULL DEFAULT 0,
	total_withdrawn    BIGINT      NOT NULL DEFAULT 0,
	total_reversed     BIGINT      NOT NULL DEFAULT 0,
	version            BIGINT      NOT NULL DEFAULT 1,
	created_at         DATETIME(6) NOT NULL,
	updated_at         DATETIME(6) NOT NULL,
	UNIQUE KEY uq_ledger_accounts_owner (owner_id),
	CONSTRAINT chk_ledger_accounts_nonneg CHECK (balance >= 0 AND pending_balance >= 0 AND processing_balance >= 0)
) ENGINE=InnoDB`},
	{"ledger_entries", `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id              CHAR(36)     NOT NULL PRIMARY KEY,
	account_id      CHAR(36)     NOT NULL,
	type            VARCHAR(32)  NOT NULL,
	gross_amount    BIGINT       NOT NULL,
	platform_fee    BIGINT       NOT NULL,
	net_amount      BIGINT       NOT NULL,
	currency        CHAR(3)      NOT NULL,
	status          VARCHAR(16)  NOT NULL,
	booking_id      CHAR(36)     NULL,
	withdrawal_id   CHAR(36)     NULL,
	parent_entry_id CHAR(36)     NULL,
	available_at    DATETIME(6)  NULL,
	reason          VARCHAR(255) NOT NULL DEFAULT '',
	created_at      DATETIME(6)  NOT NULL,
	updated_at      DATETIME(6)  NOT NULL,
	KEY idx_ledger_entries_account (account_id, created_at),
	KEY idx_ledger_entries_due (type, status, available_at),
	KEY idx_ledger_entries_booking (booking_id),
	CONSTRAINT fk_ledger_entries_account FOREIGN KEY (account_id) REFERENCES ledger_accounts (id)
) ENGINE=InnoDB`},
	{"withdrawals", `
CREATE TABLE IF NOT EXISTS withdrawals (
	id             CHAR(36)     NOT NULL PRIMARY KEY,
	account_id     CHAR(36)     NOT NULL,
	amount         BIGINT       NOT NULL,
	currency       CHAR(3)      NOT NULL,
	status         VARCHAR(16)  NOT NULL,
	holder_name    VARCHAR(255) NOT NULL,
	account_number VARCHAR(64)  NOT NULL,
	ifsc           VARCHAR(32)  NOT NULL,
	transfer_ref   VARCHAR(128) NOT NULL DEFAULT '',
	failure_reason VARCHAR(255) NOT NULL DEFAULT '',
	entry_id       CHAR(36)     NOT NULL,
	created_at     DATETIME(6)  NOT NULL,
	updated_at     DATETIME(6)  NOT NULL,
	KEY idx_withdrawals_account (account_id, created_at),
	KEY idx_withdrawals_status (status, updated_at),
	CONSTRAINT fk_withdrawals_account FOREIGN KEY (account_id) REFERENCES ledger_accounts (id)
) ENGINE=InnoDB`},
	{"processed_events", `
CREATE TABLE IF NOT EXISTS processed_events (
	gateway      VARCHAR(32)  NOT NULL,
	event_id     VARCHAR(128) NOT NULL,
	reference    VARCHAR(64)  NOT NULL,
	processed_at DATETIME(6)  NOT NULL,
	PRIMARY KEY (gateway, event_id)
) ENGINE=InnoDB`},
}

// InitializeSchema creates every table that does not exist yet.
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", t.name, err)
		}
	}
	return nil
}

// TableNames lists the managed tables in creation order.
func TableNames() []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.name
	}
	return names
}
