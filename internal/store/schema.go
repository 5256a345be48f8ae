package store

// Schema applied at startup. CREATE TABLE IF NOT EXISTS keeps restarts
// idempotent; sqlite assigns message ids, everything else uses caller
// supplied identifiers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS classes (
		class_id TEXT PRIMARY KEY,
		name     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		student_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		class_id   TEXT,
		password   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		teacher_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		class_id   TEXT,
		password   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		topic_id      TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		rubric_prompt TEXT,
		class_id      TEXT,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id    TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		topic_id   TEXT NOT NULL REFERENCES topics(topic_id),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id    TEXT NOT NULL,
		sender_id  TEXT NOT NULL,
		message    TEXT NOT NULL,
		role       TEXT NOT NULL,
		timestamp  TIMESTAMP NOT NULL,
		whisper_to TEXT,
		reasoning  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS interventions (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id           TEXT NOT NULL,
		message_id        INTEGER NOT NULL REFERENCES messages(message_id),
		intervention_type TEXT NOT NULL,
		target_student    TEXT,
		reasoning         TEXT,
		timestamp         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id        TEXT,
		room_id         TEXT,
		student_id      TEXT,
		class_id        TEXT,
		summary         TEXT NOT NULL,
		evaluation_type TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL
	)`,
}
