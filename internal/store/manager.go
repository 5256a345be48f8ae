package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Manager is the datastore gateway. All writes funnel through a single
// goroutine; sqlite tolerates concurrent reads but serialized writes keep
// it out of SQLITE_BUSY territory under classroom load.
type Manager struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// NewManager opens the database, applies pragmas and the schema, and
// starts the writer goroutine.
func NewManager(path string) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	m := &Manager{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			op.result <- op.run(m.db)
		case <-m.shutdown:
			// Fail queued writers instead of leaving them blocked.
			for {
				select {
				case op := <-m.writeCh:
					op.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) executeWrite(run func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOp{run: run, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	}
}

// SaveMessage persists a message and returns a copy carrying the assigned
// id. A zero timestamp is stamped with the current UTC time.
func (m *Manager) SaveMessage(ctx context.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	saved := *msg
	if saved.Timestamp.IsZero() {
		saved.Timestamp = time.Now().UTC()
	}
	if err := saved.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}

	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (room_id, sender_id, message, role, timestamp, whisper_to, reasoning)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			saved.RoomID,
			saved.SenderID,
			saved.Text,
			saved.Role,
			saved.Timestamp,
			nullable(saved.WhisperTo),
			nullable(saved.Reasoning),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		saved.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// RoomHistory returns all messages for a room in timestamp order.
func (m *Manager) RoomHistory(ctx context.Context, roomID string) ([]types.ChatMessage, error) {
	return m.queryMessages(ctx, `
		SELECT message_id, room_id, sender_id, message, role, timestamp, whisper_to, reasoning
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp ASC, message_id ASC`, roomID)
}

// RoomHistoryFor filters the room history for one requester: whispered
// messages appear only in their target's history.
func (m *Manager) RoomHistoryFor(ctx context.Context, roomID, requesterID string) ([]types.ChatMessage, error) {
	return m.queryMessages(ctx, `
		SELECT message_id, room_id, sender_id, message, role, timestamp, whisper_to, reasoning
		FROM messages
		WHERE room_id = ? AND (whisper_to IS NULL OR whisper_to = '' OR whisper_to = ?)
		ORDER BY timestamp ASC, message_id ASC`, roomID, requesterID)
}

func (m *Manager) queryMessages(ctx context.Context, query string, args ...interface{}) ([]types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var whisperTo, reasoning sql.NullString
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Text, &msg.Role,
			&msg.Timestamp, &whisperTo, &reasoning); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.WhisperTo = whisperTo.String
		msg.Reasoning = reasoning.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// SystemPrompt resolves the room -> topic -> system prompt chain.
func (m *Manager) SystemPrompt(ctx context.Context, roomID string) (string, error) {
	var prompt string
	err := m.db.QueryRowContext(ctx, `
		SELECT t.system_prompt
		FROM rooms r JOIN topics t ON t.topic_id = r.topic_id
		WHERE r.room_id = ?`, roomID).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: system prompt for room %s", interfaces.ErrNotFound, roomID)
	}
	if err != nil {
		return "", fmt.Errorf("query system prompt: %w", err)
	}
	return prompt, nil
}

// RubricPrompt resolves the room's evaluation rubric.
func (m *Manager) RubricPrompt(ctx context.Context, roomID string) (string, error) {
	var rubric sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT t.rubric_prompt
		FROM rooms r JOIN topics t ON t.topic_id = r.topic_id
		WHERE r.room_id = ?`, roomID).Scan(&rubric)
	if err == sql.ErrNoRows || (err == nil && !rubric.Valid) {
		return "", fmt.Errorf("%w: rubric for room %s", interfaces.ErrNotFound, roomID)
	}
	if err != nil {
		return "", fmt.Errorf("query rubric prompt: %w", err)
	}
	return rubric.String, nil
}

// StudentName resolves a display name. The assistant id is reserved and
// never resolves.
func (m *Manager) StudentName(ctx context.Context, studentID string) (string, error) {
	if studentID == types.SenderAssistant {
		return "", fmt.Errorf("%w: reserved sender id", interfaces.ErrNotFound)
	}
	var name string
	err := m.db.QueryRowContext(ctx,
		`SELECT name FROM students WHERE student_id = ?`, studentID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: student %s", interfaces.ErrNotFound, studentID)
	}
	if err != nil {
		return "", fmt.Errorf("query student name: %w", err)
	}
	return name, nil
}

// GetStudent returns the full student record for login lookups.
func (m *Manager) GetStudent(ctx context.Context, studentID string) (*types.Student, error) {
	var s types.Student
	var classID, password sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT student_id, name, class_id, password FROM students WHERE student_id = ?`,
		studentID).Scan(&s.StudentID, &s.Name, &classID, &password)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: student %s", interfaces.ErrNotFound, studentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	s.ClassID = classID.String
	s.Password = password.String
	return &s, nil
}

// GetTeacher returns the full teacher record for login lookups.
func (m *Manager) GetTeacher(ctx context.Context, teacherID string) (*types.Teacher, error) {
	var t types.Teacher
	var classID, password sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT teacher_id, name, class_id, password FROM teachers WHERE teacher_id = ?`,
		teacherID).Scan(&t.TeacherID, &t.Name, &classID, &password)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: teacher %s", interfaces.ErrNotFound, teacherID)
	}
	if err != nil {
		return nil, fmt.Errorf("query teacher: %w", err)
	}
	t.ClassID = classID.String
	t.Password = password.String
	return &t, nil
}

// ListClasses returns all classes.
func (m *Manager) ListClasses(ctx context.Context) ([]types.Class, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT class_id, name FROM classes ORDER BY class_id`)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var classes []types.Class
	for rows.Next() {
		var c types.Class
		if err := rows.Scan(&c.ClassID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan class row: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// ListTopics returns all topics, newest first.
func (m *Manager) ListTopics(ctx context.Context) ([]types.Topic, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT topic_id, title, system_prompt, rubric_prompt, class_id, created_at
		FROM topics ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []types.Topic
	for rows.Next() {
		var t types.Topic
		var rubric, classID sql.NullString
		if err := rows.Scan(&t.TopicID, &t.Title, &t.SystemPrompt, &rubric, &classID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		t.RubricPrompt = rubric.String
		t.ClassID = classID.String
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ListRooms returns all rooms, newest first.
func (m *Manager) ListRooms(ctx context.Context) ([]types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT room_id, title, topic_id, created_at FROM rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []types.Room
	for rows.Next() {
		var r types.Room
		if err := rows.Scan(&r.RoomID, &r.Title, &r.TopicID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// CreateTopicWithRooms creates a topic and roomCount rooms under it in one
// transaction. Ids are assigned here; the topic title seeds room titles.
func (m *Manager) CreateTopicWithRooms(ctx context.Context, topic *types.Topic, roomCount int) ([]types.Room, error) {
	if roomCount < 1 {
		roomCount = 1
	}
	created := *topic
	if created.TopicID == "" {
		created.TopicID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	rooms := make([]types.Room, roomCount)
	for i := range rooms {
		rooms[i] = types.Room{
			RoomID:    uuid.NewString(),
			Title:     fmt.Sprintf("%s - group %d", created.Title, i+1),
			TopicID:   created.TopicID,
			CreatedAt: created.CreatedAt,
		}
	}

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO topics (topic_id, title, system_prompt, rubric_prompt, class_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			created.TopicID, created.Title, created.SystemPrompt,
			nullable(created.RubricPrompt), nullable(created.ClassID), created.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}

		for _, room := range rooms {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO rooms (room_id, title, topic_id, created_at)
				VALUES (?, ?, ?, ?)`,
				room.RoomID, room.Title, room.TopicID, room.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert room: %w", err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	*topic = created
	return rooms, nil
}

// LogIntervention writes an audit entry. The record must reference a
// persisted assistant message; rejecting id-less records here is what
// enforces the persist-before-log ordering.
func (m *Manager) LogIntervention(ctx context.Context, rec *types.InterventionRecord) error {
	if rec.MessageID == 0 {
		return fmt.Errorf("%w: %v", interfaces.ErrValidation, ErrMissingMessageID)
	}
	stamp := rec.Timestamp
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO interventions (room_id, message_id, intervention_type, target_student, reasoning, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.RoomID, rec.MessageID, rec.Kind,
			nullable(rec.TargetStudent), nullable(rec.Reasoning), stamp)
		if err != nil {
			return fmt.Errorf("insert intervention: %w", err)
		}
		return nil
	})
}

// InterventionsForRoom returns the audit log for one room, oldest first.
func (m *Manager) InterventionsForRoom(ctx context.Context, roomID string) ([]types.InterventionRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, message_id, intervention_type, target_student, reasoning, timestamp
		FROM interventions WHERE room_id = ? ORDER BY timestamp ASC, id ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.InterventionRecord
	for rows.Next() {
		var rec types.InterventionRecord
		var target, reasoning sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.MessageID, &rec.Kind,
			&target, &reasoning, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan intervention row: %w", err)
		}
		rec.TargetStudent = target.String
		rec.Reasoning = reasoning.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveEvaluation persists a rubric evaluation result.
func (m *Manager) SaveEvaluation(ctx context.Context, eval *types.Evaluation) error {
	stamp := eval.CreatedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO evaluations (topic_id, room_id, student_id, class_id, summary, evaluation_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			nullable(eval.TopicID), nullable(eval.RoomID), nullable(eval.StudentID),
			nullable(eval.ClassID), eval.Summary, eval.EvaluationType, stamp)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	logrus.Debug("store closed")
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
