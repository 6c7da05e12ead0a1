package repository

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		identity VARCHAR(128) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS uploaded_files (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		original_name VARCHAR(255) NOT NULL,
		storage_key VARCHAR(512) NOT NULL UNIQUE,
		storage_url VARCHAR(1024) NOT NULL,
		mime_type VARCHAR(128) NOT NULL,
		size_bytes BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_uploaded_files_owner ON uploaded_files(owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS bill_categories (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT,
		name VARCHAR(64) NOT NULL,
		code VARCHAR(64) NOT NULL DEFAULT '',
		description VARCHAR(255) NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_categories_owner ON bill_categories(owner_id, deleted)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		category_id BIGINT,
		source_file_id BIGINT,
		name VARCHAR(255) NOT NULL,
		direction VARCHAR(16) NOT NULL,
		invoice_number VARCHAR(64) NOT NULL DEFAULT '',
		counterparty_name VARCHAR(255) NOT NULL DEFAULT '',
		category_label VARCHAR(64) NOT NULL DEFAULT '',
		total_amount NUMERIC(14,2) NOT NULL,
		tax_amount NUMERIC(14,2),
		net_amount NUMERIC(14,2),
		currency_code VARCHAR(8) NOT NULL,
		issue_date DATE NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bills_owner ON bills(owner_id, issue_date)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_source_file ON bills(owner_id, source_file_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS uploaded_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		original_name TEXT NOT NULL,
		storage_key TEXT NOT NULL UNIQUE,
		storage_url TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_uploaded_files_owner ON uploaded_files(owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS bill_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		is_system BOOLEAN NOT NULL DEFAULT 0,
		deleted BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_categories_owner ON bill_categories(owner_id, deleted)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		category_id INTEGER,
		source_file_id INTEGER,
		name TEXT NOT NULL,
		direction TEXT NOT NULL,
		invoice_number TEXT NOT NULL DEFAULT '',
		counterparty_name TEXT NOT NULL DEFAULT '',
		category_label TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		tax_amount TEXT,
		net_amount TEXT,
		currency_code TEXT NOT NULL,
		issue_date DATE NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bills_owner ON bills(owner_id, issue_date)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_source_file ON bills(owner_id, source_file_id)`,
}
