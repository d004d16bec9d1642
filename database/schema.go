package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS boards (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	prefix INTEGER UNIQUE CHECK (prefix IS NULL OR prefix BETWEEN 0 AND 9),
	created DATETIME NOT NULL
);
-- thread_id and posts.id are issued by the allocator, never by SQLite.
CREATE TABLE IF NOT EXISTS threads (
	thread_id INTEGER PRIMARY KEY,
	board_id TEXT NOT NULL,
	content TEXT NOT NULL,
	image_url TEXT,
	image_alt TEXT,
	op_ip TEXT NOT NULL DEFAULT 'anonymous',
	created DATETIME NOT NULL,
	FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY,
	thread_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	image_url TEXT,
	created DATETIME NOT NULL,
	FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS mod_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	action TEXT NOT NULL,
	details TEXT
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_mod_actions_time ON mod_actions(timestamp DESC);
`
