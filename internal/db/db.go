// Package db provides SQLite storage for the triage pipeline: a cache of
// fetched emails, classification decisions, side-effect markers, run health
// and cost ledger snapshots.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// DB wraps a SQLite connection for triage operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) a triage database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	for _, m := range migrations {
		if _, err := conn.Exec(m); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			conn.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Now returns the current time as an ISO 8601 string.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t the way every timestamp column stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime reads a timestamp column. Unparseable values yield the zero time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DiscoverDB finds the triage database by walking up from cwd.
// Returns the path to .triage/triage.db or empty string if not found.
func DiscoverDB() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".triage", "triage.db")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// FindProjectRoot walks up from cwd looking for a .git directory.
func FindProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// --- Email operations ---

// InsertEmail caches a fetched message, ignoring duplicates.
func (d *DB) InsertEmail(m *types.Message, threadID string) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO emails
			(id, thread_id, message_id, in_reply_to, from_addr, to_addr, subject, body, received_at, labels, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, threadID, nullStr(m.ProtocolMessageID), nullStr(m.InReplyTo), m.From, nullStr(m.To),
		m.Subject, nullStr(m.BodyText), FormatTime(m.ReceivedAt), nullStr(strings.Join(m.Labels, ",")), Now(),
	)
	return err
}

// SetEmailLabels replaces the cached label set.
func (d *DB) SetEmailLabels(id string, labels []string) error {
	_, err := d.conn.Exec("UPDATE emails SET labels = ? WHERE id = ?", nullStr(strings.Join(labels, ",")), id)
	return err
}

// EmailCount returns the total number of cached emails.
func (d *DB) EmailCount() int {
	var n int
	d.conn.QueryRow("SELECT COUNT(*) FROM emails").Scan(&n)
	return n
}

// StoredEmail is a cached message with the thread it was assigned to.
type StoredEmail struct {
	ThreadID string
	Message  *types.Message
}

// RecentEmails returns cached emails received at or after since, oldest
// first, capped at limit (0 = no cap, keeping the newest).
func (d *DB) RecentEmails(since time.Time, limit int) ([]StoredEmail, error) {
	query := `
		SELECT id, thread_id, message_id, in_reply_to, from_addr, to_addr,
		       subject, body, received_at, labels
		FROM emails
		WHERE received_at >= ?
		ORDER BY received_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := d.conn.Query(query, FormatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ThreadEmails returns all cached emails in a thread, oldest first.
func (d *DB) ThreadEmails(threadID string) ([]*types.Message, error) {
	rows, err := d.conn.Query(`
		SELECT id, thread_id, message_id, in_reply_to, from_addr, to_addr,
		       subject, body, received_at, labels
		FROM emails
		WHERE thread_id = ?
		ORDER BY received_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stored, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	msgs := make([]*types.Message, len(stored))
	for i, s := range stored {
		msgs[i] = s.Message
	}
	return msgs, nil
}

func scanEmails(rows *sql.Rows) ([]StoredEmail, error) {
	var result []StoredEmail
	for rows.Next() {
		m := &types.Message{}
		var threadID, receivedAt string
		var msgID, inReplyTo, to, body, labels sql.NullString
		if err := rows.Scan(
			&m.ID, &threadID, &msgID, &inReplyTo, &m.From, &to,
			&m.Subject, &body, &receivedAt, &labels,
		); err != nil {
			return nil, err
		}
		m.ProtocolMessageID = msgID.String
		m.InReplyTo = inReplyTo.String
		m.To = to.String
		m.BodyText = body.String
		m.ReceivedAt = ParseTime(receivedAt)
		if labels.String != "" {
			m.Labels = strings.Split(labels.String, ",")
		}
		result = append(result, StoredEmail{ThreadID: threadID, Message: m})
	}
	return result, rows.Err()
}

// --- Decision operations ---

const decisionColumns = `message_id, thread_id, subject, from_addr, tier, category, label,
		       action, reason, status, note, decided_at, updated_at`

// SaveDecision inserts or replaces the decision for a message. An existing
// row keeps its decided_at.
func (d *DB) SaveDecision(dec *types.Decision) error {
	now := Now()
	if dec.DecidedAt == "" {
		dec.DecidedAt = now
	}
	if dec.Status == "" {
		dec.Status = types.StatusPending
	}
	_, err := d.conn.Exec(`
		INSERT INTO decisions
			(message_id, thread_id, subject, from_addr, tier, category, label,
			 action, reason, status, note, decided_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			thread_id = excluded.thread_id, tier = excluded.tier, category = excluded.category,
			label = excluded.label, action = excluded.action, reason = excluded.reason,
			status = excluded.status, note = excluded.note, updated_at = excluded.updated_at`,
		dec.MessageID, dec.ThreadID, dec.Subject, nullStr(dec.From), int(dec.Tier), string(dec.Category),
		nullStr(dec.Label), string(dec.Action), nullStr(dec.Reason), dec.Status, nullStr(dec.Note),
		dec.DecidedAt, now,
	)
	return err
}

// UpdateDecisionStatus sets the status (and optional note) of a decision.
func (d *DB) UpdateDecisionStatus(messageID, status, note string) error {
	res, err := d.conn.Exec(
		"UPDATE decisions SET status = ?, note = COALESCE(?, note), updated_at = ? WHERE message_id = ?",
		status, nullStr(note), Now(), messageID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("decision for %q not found", messageID)
	}
	return nil
}

// GetDecision returns the decision for a message, or nil if none exists.
func (d *DB) GetDecision(messageID string) (*types.Decision, error) {
	rows, err := d.conn.Query("SELECT "+decisionColumns+" FROM decisions WHERE message_id = ?", messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanDecisions(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// PendingApproval returns drafts and flags that no human has reviewed yet,
// newest first.
func (d *DB) PendingApproval(limit int) ([]*types.Decision, error) {
	query := "SELECT " + decisionColumns + ` FROM decisions
		WHERE action IN (?, ?) AND status = ?
		ORDER BY tier ASC, decided_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := d.conn.Query(query,
		string(types.ActionDraftForApproval), string(types.ActionFlagOnly), types.StatusDone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// DecisionsSince returns decisions made at or after since, newest first.
func (d *DB) DecisionsSince(since time.Time) ([]*types.Decision, error) {
	rows, err := d.conn.Query("SELECT "+decisionColumns+` FROM decisions
		WHERE decided_at >= ? ORDER BY decided_at DESC`, FormatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]*types.Decision, error) {
	var result []*types.Decision
	for rows.Next() {
		dec := &types.Decision{}
		var tier int
		var category, action string
		var from, label, reason, note, updatedAt sql.NullString
		if err := rows.Scan(
			&dec.MessageID, &dec.ThreadID, &dec.Subject, &from, &tier, &category, &label,
			&action, &reason, &dec.Status, &note, &dec.DecidedAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		dec.Tier = types.Tier(tier)
		dec.Category = types.Category(category)
		dec.Action = types.Action(action)
		dec.From = from.String
		dec.Label = label.String
		dec.Reason = reason.String
		dec.Note = note.String
		dec.UpdatedAt = updatedAt.String
		result = append(result, dec)
	}
	return result, rows.Err()
}

// DecisionCountByTier returns decision counts grouped by tier.
func (d *DB) DecisionCountByTier() (map[types.Tier]int, error) {
	rows, err := d.conn.Query("SELECT tier, COUNT(*) FROM decisions GROUP BY tier")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[types.Tier]int{types.TierEscalate: 0, types.TierHandle: 0, types.TierDraft: 0, types.TierFlag: 0}
	for rows.Next() {
		var tier, count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, err
		}
		counts[types.Tier(tier)] = count
	}
	return counts, rows.Err()
}

// DecisionCountByStatus returns decision counts grouped by status.
func (d *DB) DecisionCountByStatus() (map[string]int, error) {
	rows, err := d.conn.Query("SELECT status, COUNT(*) FROM decisions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{types.StatusPending: 0, types.StatusDone: 0, types.StatusFailed: 0, types.StatusReviewed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// --- Marker operations ---

// HasMarker reports whether the side effect action was already performed
// for the message.
func (d *DB) HasMarker(messageID, action string) (bool, error) {
	var n int
	err := d.conn.QueryRow(
		"SELECT 1 FROM markers WHERE message_id = ? AND action = ?", messageID, action).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetMarker records that action was performed for the message. Setting an
// existing marker is a no-op.
func (d *DB) SetMarker(messageID, action, detail string) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO markers (message_id, action, detail, created_at)
		VALUES (?, ?, ?, ?)`, messageID, action, nullStr(detail), Now())
	return err
}

// MarkerCount returns the number of recorded side effects.
func (d *DB) MarkerCount() int {
	var n int
	d.conn.QueryRow("SELECT COUNT(*) FROM markers").Scan(&n)
	return n
}

// --- Run operations ---

// StartRun records the beginning of an invocation.
func (d *DB) StartRun(r *types.RunSummary) error {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if r.StartedAt == "" {
		r.StartedAt = Now()
	}
	_, err := d.conn.Exec(
		"INSERT INTO runs (id, mode, started_at) VALUES (?, ?, ?)",
		r.RunID, r.Mode, r.StartedAt)
	return err
}

// FinishRun records the outcome of an invocation.
func (d *DB) FinishRun(r *types.RunSummary) error {
	if r.FinishedAt == "" {
		r.FinishedAt = Now()
	}
	res, err := d.conn.Exec(`
		UPDATE runs SET finished_at = ?, processed = ?, failures = ?, healthy = ?, error = ?,
			fetched_through = ?
		WHERE id = ?`,
		r.FinishedAt, r.Processed, r.Failures, boolInt(r.Healthy), nullStr(r.Error),
		nullStr(r.FetchedThrough), r.RunID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %q not found", r.RunID)
	}
	return nil
}

// LastSuccessfulRun returns the start time of the newest healthy run.
func (d *DB) LastSuccessfulRun() (time.Time, bool, error) {
	var s string
	err := d.conn.QueryRow(
		"SELECT started_at FROM runs WHERE healthy = 1 ORDER BY started_at DESC, rowid DESC LIMIT 1").Scan(&s)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ParseTime(s), true, nil
}

// FetchCursor returns where the next fetch starts: the cursor of the newest
// finished run that recorded one, else the start of the newest healthy run.
func (d *DB) FetchCursor() (time.Time, bool, error) {
	var s string
	err := d.conn.QueryRow(`
		SELECT fetched_through FROM runs
		WHERE finished_at IS NOT NULL AND fetched_through IS NOT NULL
		ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&s)
	if err == sql.ErrNoRows {
		return d.LastSuccessfulRun()
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ParseTime(s), true, nil
}

// ConsecutiveFailures counts finished unhealthy runs since the last healthy one.
func (d *DB) ConsecutiveFailures() (int, error) {
	rows, err := d.conn.Query(
		"SELECT healthy FROM runs WHERE finished_at IS NOT NULL ORDER BY started_at DESC, rowid DESC LIMIT 100")
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var healthy int
		if err := rows.Scan(&healthy); err != nil {
			return 0, err
		}
		if healthy == 1 {
			break
		}
		n++
	}
	return n, rows.Err()
}

// RecentRuns returns the newest runs first.
func (d *DB) RecentRuns(limit int) ([]*types.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.conn.Query(`
		SELECT id, mode, started_at, finished_at, processed, failures, healthy, error, fetched_through
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.RunSummary
	for rows.Next() {
		r := &types.RunSummary{}
		var finished, errStr, through sql.NullString
		var healthy sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &finished,
			&r.Processed, &r.Failures, &healthy, &errStr, &through); err != nil {
			return nil, err
		}
		r.FinishedAt = finished.String
		r.FetchedThrough = through.String
		r.Healthy = healthy.Valid && healthy.Int64 == 1
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Cost ledger snapshots ---

// SaveCostSnapshot stores the ledger.
func (d *DB) SaveCostSnapshot(s cost.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode cost snapshot: %w", err)
	}
	_, err = d.conn.Exec("INSERT INTO cost_snapshots (taken_at, data) VALUES (?, ?)", Now(), string(data))
	return err
}

// LatestCostSnapshot returns the most recent ledger, or nil if none exists.
func (d *DB) LatestCostSnapshot() (*cost.Snapshot, error) {
	var data string
	err := d.conn.QueryRow("SELECT data FROM cost_snapshots ORDER BY id DESC LIMIT 1").Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s cost.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode cost snapshot: %w", err)
	}
	return &s, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
