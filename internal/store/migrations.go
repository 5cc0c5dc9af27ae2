package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Attempts table - one row per finished authentication attempt
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			source TEXT NOT NULL CHECK(source IN ('live', 'still')),
			outcome TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			similarity REAL NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			frames INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,

		// Bindings table - plugin actions to run when a room reaches an outcome
		`CREATE TABLE IF NOT EXISTS bindings (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			plugin_name TEXT NOT NULL,
			action_name TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attempts_room_id ON attempts(room_id, finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_room_outcome ON bindings(room_id, outcome)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
