package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// User holds account identity plus the gamification triple and reset clock.
type User struct {
	ID          int64
	Username    string
	Email       string
	Timezone    string  // IANA zone name, e.g. "Asia/Kathmandu"
	CurrentXP   int
	TotalXP     int
	Level       int
	NextResetAt *string // RFC3339 UTC instant of the next local midnight
}

// Habit is a recurring personal commitment owned by one user.
type Habit struct {
	ID             int64
	UserID         int64
	Title          string
	Description    *string
	FrequencyType  string  // daily, every_n_days, weekly_quota
	FrequencyValue *int    // n for every_n_days, quota for weekly_quota
	FrequencyDays  *string // JSON array of weekdays 0=Sun..6=Sat, or NULL
	IsArchived     bool
	StartDate      string // YYYY-MM-DD
	EndDate        *string
}

// HabitLog tracks one habit's status for one calendar date.
type HabitLog struct {
	ID      int64
	HabitID int64
	UserID  int64
	Date    string // YYYY-MM-DD
	Status  string // remaining, completed, missed
}

// Challenge is a shared commitment users participate in.
type Challenge struct {
	ID          int64
	Title       string
	Description *string
}

// Participation links a user to a challenge with its own date bounds.
type Participation struct {
	ID          int64
	ChallengeID int64
	UserID      int64
	StartDate   string
	EndDate     *string
	Status      string // scheduled, active, completed, failed, retracted
}

// ChallengeLog tracks one participation's status for one calendar date.
type ChallengeLog struct {
	ID          int64
	ChallengeID int64
	UserID      int64
	Date        string
	Status      string // remaining, completed, missed
}

// Job is a durable queue entry. Completed jobs are deleted; jobs that
// exhaust their retries are retained with status "failed" for inspection.
type Job struct {
	ID          string // uuid
	Topic       string
	Payload     string // JSON
	Status      string // pending, failed
	Attempts    int
	MaxAttempts int
	BackoffMs   int64 // base delay; doubles per attempt
	NextRunAt   string
	LastError   *string
	CreatedAt   string
}

// Reminder is a scheduled nudge for a commitment still pending today.
type Reminder struct {
	ID     int64
	UserID int64
	Kind   string // habit, challenge
	RefID  int64  // habit or challenge id
	SendAt string // RFC3339
	Sent   bool
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// --- Migrations ---

type migration struct {
	version int
	fn      func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, fn: migrate001},
	{version: 2, fn: migrate002},
	{version: 3, fn: migrate003},
}

func (d *DB) migrate() error {
	// Ensure schema_migrations table exists.
	_, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.fn(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

func migrate001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			email TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			current_xp INTEGER NOT NULL DEFAULT 0,
			total_xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			next_reset_at TEXT
		)`,

		`CREATE TABLE habits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT,
			frequency_type TEXT NOT NULL DEFAULT 'daily',
			frequency_value INTEGER,
			frequency_days TEXT,
			is_archived INTEGER NOT NULL DEFAULT 0,
			start_date TEXT NOT NULL,
			end_date TEXT
		)`,

		`CREATE TABLE habit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			habit_id INTEGER NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'remaining',
			UNIQUE (habit_id, user_id, date)
		)`,

		`CREATE TABLE challenges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT
		)`,

		`CREATE TABLE challenge_participants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			start_date TEXT NOT NULL,
			end_date TEXT,
			status TEXT NOT NULL DEFAULT 'active'
		)`,

		`CREATE TABLE challenge_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'remaining',
			UNIQUE (challenge_id, user_id, date)
		)`,

		`CREATE INDEX idx_habits_user ON habits(user_id, is_archived)`,
		`CREATE INDEX idx_habit_logs_user_status ON habit_logs(user_id, status, date)`,
		`CREATE INDEX idx_challenge_logs_user_status ON challenge_logs(user_id, status, date)`,
		`CREATE INDEX idx_participants_user_status ON challenge_participants(user_id, status)`,
		`CREATE INDEX idx_users_next_reset ON users(next_reset_at)`,
	}

	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func migrate002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			backoff_ms INTEGER NOT NULL,
			next_run_at TEXT NOT NULL,
			last_error TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE xp_adjustments (
			job_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE INDEX idx_jobs_due ON jobs(status, next_run_at)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func migrate003(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			ref_id INTEGER NOT NULL,
			send_at TEXT NOT NULL,
			sent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX idx_reminders_due ON reminders(sent, send_at)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// --- User Methods ---

const userColumns = `id, username, email, timezone, current_xp, total_xp, level, next_reset_at`

func scanUser(scanner interface{ Scan(...any) error }, u *User) error {
	return scanner.Scan(&u.ID, &u.Username, &u.Email, &u.Timezone, &u.CurrentXP, &u.TotalXP, &u.Level, &u.NextResetAt)
}

// InsertUser creates a user record and returns its ID.
func (d *DB) InsertUser(u *User) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO users (username, email, timezone, current_xp, total_xp, level, next_reset_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.Timezone, u.CurrentXP, u.TotalXP, u.Level, u.NextResetAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// GetUser retrieves a single user by ID. Returns nil if not found.
func (d *DB) GetUser(id int64) (*User, error) {
	u := &User{}
	row := d.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err := scanUser(row, u); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// UpdateUserXP stores a user's progress triple.
func (d *DB) UpdateUserXP(id int64, currentXP, totalXP, level int) error {
	_, err := d.conn.Exec(
		`UPDATE users SET current_xp = ?, total_xp = ?, level = ? WHERE id = ?`,
		currentXP, totalXP, level, id,
	)
	if err != nil {
		return fmt.Errorf("update user xp %d: %w", id, err)
	}
	return nil
}

// ApplyXPAdjustment records a queue-job XP delta and writes the user's new
// progress triple in a single transaction, so the journal row exists iff the
// user update committed. Returns false when the job ID was already recorded
// (replayed delivery); nothing is written in that case.
func (d *DB) ApplyXPAdjustment(jobID string, userID int64, amount, currentXP, totalXP, level int) (bool, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("begin xp adjustment: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO xp_adjustments (job_id, user_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		jobID, userID, amount,
	)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert xp adjustment %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("xp adjustment rows affected: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if _, err := tx.Exec(
		`UPDATE users SET current_xp = ?, total_xp = ?, level = ? WHERE id = ?`,
		currentXP, totalXP, level, userID,
	); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("update user xp %d: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit xp adjustment: %w", err)
	}
	return true, nil
}

// UsersDueForReset returns users whose next_reset_at has elapsed.
// Users with no reset scheduled yet are included so they get bootstrapped.
func (d *DB) UsersDueForReset(now string) ([]User, error) {
	rows, err := d.conn.Query(
		`SELECT `+userColumns+` FROM users WHERE next_reset_at IS NULL OR next_reset_at <= ?`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("users due for reset: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var users []User
	for rows.Next() {
		var u User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateNextResetAt stores the UTC instant of a user's next local midnight.
func (d *DB) UpdateNextResetAt(userID int64, at string) error {
	_, err := d.conn.Exec(`UPDATE users SET next_reset_at = ? WHERE id = ?`, at, userID)
	if err != nil {
		return fmt.Errorf("update next reset %d: %w", userID, err)
	}
	return nil
}

// --- Habit Methods ---

const habitColumns = `id, user_id, title, description, frequency_type, frequency_value, frequency_days, is_archived, start_date, end_date`

func scanHabit(scanner interface{ Scan(...any) error }, h *Habit) error {
	var archived int
	if err := scanner.Scan(&h.ID, &h.UserID, &h.Title, &h.Description, &h.FrequencyType, &h.FrequencyValue, &h.FrequencyDays, &archived, &h.StartDate, &h.EndDate); err != nil {
		return err
	}
	h.IsArchived = archived == 1
	return nil
}

// InsertHabit creates a habit record and returns its ID.
func (d *DB) InsertHabit(h *Habit) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO habits (user_id, title, description, frequency_type, frequency_value, frequency_days, is_archived, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.UserID, h.Title, h.Description, h.FrequencyType, h.FrequencyValue, h.FrequencyDays, boolToInt(h.IsArchived), h.StartDate, h.EndDate,
	)
	if err != nil {
		return 0, fmt.Errorf("insert habit: %w", err)
	}
	return res.LastInsertId()
}

// GetHabit retrieves a single habit by ID. Returns nil if not found.
func (d *DB) GetHabit(id int64) (*Habit, error) {
	h := &Habit{}
	row := d.conn.QueryRow(`SELECT `+habitColumns+` FROM habits WHERE id = ?`, id)
	if err := scanHabit(row, h); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get habit %d: %w", id, err)
	}
	return h, nil
}

// ActiveHabits returns a user's non-archived habits whose date window
// covers the given date.
func (d *DB) ActiveHabits(userID int64, date string) ([]Habit, error) {
	rows, err := d.conn.Query(
		`SELECT `+habitColumns+` FROM habits
		 WHERE user_id = ? AND is_archived = 0 AND start_date <= ?
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id`,
		userID, date, date,
	)
	if err != nil {
		return nil, fmt.Errorf("active habits: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var habits []Habit
	for rows.Next() {
		var h Habit
		if err := scanHabit(rows, &h); err != nil {
			return nil, fmt.Errorf("scan habit: %w", err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// ArchiveHabit soft-deletes a habit.
func (d *DB) ArchiveHabit(id int64) error {
	_, err := d.conn.Exec(`UPDATE habits SET is_archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive habit %d: %w", id, err)
	}
	return nil
}

// --- Habit Log Methods ---

const habitLogColumns = `id, habit_id, user_id, date, status`

func scanHabitLog(scanner interface{ Scan(...any) error }, l *HabitLog) error {
	return scanner.Scan(&l.ID, &l.HabitID, &l.UserID, &l.Date, &l.Status)
}

// CreateHabitLogIfAbsent inserts a log row keyed by (habit, user, date).
// Returns false when a row for that key already exists. The insert is
// atomic against the unique index, so concurrent backfills cannot
// duplicate or overwrite rows.
func (d *DB) CreateHabitLogIfAbsent(habitID, userID int64, date, status string) (bool, error) {
	res, err := d.conn.Exec(
		`INSERT INTO habit_logs (habit_id, user_id, date, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(habit_id, user_id, date) DO NOTHING`,
		habitID, userID, date, status,
	)
	if err != nil {
		return false, fmt.Errorf("create habit log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("habit log rows affected: %w", err)
	}
	return n > 0, nil
}

// GetHabitLog retrieves a single log row by ID. Returns nil if not found.
func (d *DB) GetHabitLog(id int64) (*HabitLog, error) {
	l := &HabitLog{}
	row := d.conn.QueryRow(`SELECT `+habitLogColumns+` FROM habit_logs WHERE id = ?`, id)
	if err := scanHabitLog(row, l); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get habit log %d: %w", id, err)
	}
	return l, nil
}

// HabitLogs returns all log rows for a (user, habit) pair ordered by date
// descending.
func (d *DB) HabitLogs(userID, habitID int64) ([]HabitLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+habitLogColumns+` FROM habit_logs
		 WHERE user_id = ? AND habit_id = ? ORDER BY date DESC`,
		userID, habitID,
	)
	if err != nil {
		return nil, fmt.Errorf("habit logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectHabitLogs(rows)
}

// LatestHabitLogDate returns the most recent log date for a habit, or nil
// when the habit has no logs yet.
func (d *DB) LatestHabitLogDate(habitID int64) (*string, error) {
	var date string
	err := d.conn.QueryRow(
		`SELECT date FROM habit_logs WHERE habit_id = ? ORDER BY date DESC LIMIT 1`, habitID,
	).Scan(&date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest habit log date: %w", err)
	}
	return &date, nil
}

// CompletedHabitLogCount counts completed logs for a habit within an
// inclusive date range.
func (d *DB) CompletedHabitLogCount(habitID int64, from, to string) (int, error) {
	var count int
	err := d.conn.QueryRow(
		`SELECT COUNT(*) FROM habit_logs
		 WHERE habit_id = ? AND status = 'completed' AND date BETWEEN ? AND ?`,
		habitID, from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("completed habit log count: %w", err)
	}
	return count, nil
}

// StaleRemainingHabitLogs returns the user's remaining rows dated strictly
// before the given date.
func (d *DB) StaleRemainingHabitLogs(userID int64, before string) ([]HabitLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+habitLogColumns+` FROM habit_logs
		 WHERE user_id = ? AND status = 'remaining' AND date < ?`,
		userID, before,
	)
	if err != nil {
		return nil, fmt.Errorf("stale remaining habit logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectHabitLogs(rows)
}

// HabitLogsOn returns all of a user's habit log rows for one date.
func (d *DB) HabitLogsOn(userID int64, date string) ([]HabitLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+habitLogColumns+` FROM habit_logs WHERE user_id = ? AND date = ?`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("habit logs on %s: %w", date, err)
	}
	defer rows.Close() //nolint:errcheck
	return collectHabitLogs(rows)
}

// UpdateHabitLogStatus transitions a single log row.
func (d *DB) UpdateHabitLogStatus(id int64, status string) error {
	_, err := d.conn.Exec(`UPDATE habit_logs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update habit log %d: %w", id, err)
	}
	return nil
}

// UpdateHabitLogStatusBulk transitions a set of log rows by ID.
func (d *DB) UpdateHabitLogStatusBulk(ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := bulkStatusUpdate("habit_logs", ids, status)
	if _, err := d.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("bulk update habit logs: %w", err)
	}
	return nil
}

func collectHabitLogs(rows *sql.Rows) ([]HabitLog, error) {
	var logs []HabitLog
	for rows.Next() {
		var l HabitLog
		if err := scanHabitLog(rows, &l); err != nil {
			return nil, fmt.Errorf("scan habit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Challenge Methods ---

// InsertChallenge creates a challenge record and returns its ID.
func (d *DB) InsertChallenge(c *Challenge) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO challenges (title, description) VALUES (?, ?)`,
		c.Title, c.Description,
	)
	if err != nil {
		return 0, fmt.Errorf("insert challenge: %w", err)
	}
	return res.LastInsertId()
}

// GetChallenge retrieves a single challenge by ID. Returns nil if not found.
func (d *DB) GetChallenge(id int64) (*Challenge, error) {
	c := &Challenge{}
	err := d.conn.QueryRow(`SELECT id, title, description FROM challenges WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %d: %w", id, err)
	}
	return c, nil
}

const participationColumns = `id, challenge_id, user_id, start_date, end_date, status`

func scanParticipation(scanner interface{ Scan(...any) error }, p *Participation) error {
	return scanner.Scan(&p.ID, &p.ChallengeID, &p.UserID, &p.StartDate, &p.EndDate, &p.Status)
}

// InsertParticipation creates a participation record and returns its ID.
func (d *DB) InsertParticipation(p *Participation) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO challenge_participants (challenge_id, user_id, start_date, end_date, status)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ChallengeID, p.UserID, p.StartDate, p.EndDate, p.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert participation: %w", err)
	}
	return res.LastInsertId()
}

// GetParticipation retrieves a participation by ID. Returns nil if not found.
func (d *DB) GetParticipation(id int64) (*Participation, error) {
	p := &Participation{}
	row := d.conn.QueryRow(`SELECT `+participationColumns+` FROM challenge_participants WHERE id = ?`, id)
	if err := scanParticipation(row, p); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get participation %d: %w", id, err)
	}
	return p, nil
}

// ActiveParticipations returns a user's active participations whose date
// window covers the given date.
func (d *DB) ActiveParticipations(userID int64, date string) ([]Participation, error) {
	rows, err := d.conn.Query(
		`SELECT `+participationColumns+` FROM challenge_participants
		 WHERE user_id = ? AND status = 'active' AND start_date <= ?
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id`,
		userID, date, date,
	)
	if err != nil {
		return nil, fmt.Errorf("active participations: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectParticipations(rows)
}

// ActiveParticipantsOfChallenge returns the other active participants of a
// challenge, excluding one user.
func (d *DB) ActiveParticipantsOfChallenge(challengeID, excludeUserID int64) ([]Participation, error) {
	rows, err := d.conn.Query(
		`SELECT `+participationColumns+` FROM challenge_participants
		 WHERE challenge_id = ? AND user_id != ? AND status = 'active'`,
		challengeID, excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("active participants of challenge: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectParticipations(rows)
}

// EndedActiveParticipations returns participations still marked active
// whose end_date has passed.
func (d *DB) EndedActiveParticipations(before string) ([]Participation, error) {
	rows, err := d.conn.Query(
		`SELECT `+participationColumns+` FROM challenge_participants
		 WHERE status = 'active' AND end_date IS NOT NULL AND end_date < ?`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("ended active participations: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectParticipations(rows)
}

// UpdateParticipationStatus transitions a participation.
func (d *DB) UpdateParticipationStatus(id int64, status string) error {
	_, err := d.conn.Exec(`UPDATE challenge_participants SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update participation %d: %w", id, err)
	}
	return nil
}

// ActivateScheduledParticipations flips scheduled participations whose
// start date has arrived to active. Returns the number activated.
func (d *DB) ActivateScheduledParticipations(date string) (int64, error) {
	res, err := d.conn.Exec(
		`UPDATE challenge_participants SET status = 'active'
		 WHERE status = 'scheduled' AND start_date <= ?`,
		date,
	)
	if err != nil {
		return 0, fmt.Errorf("activate scheduled participations: %w", err)
	}
	return res.RowsAffected()
}

func collectParticipations(rows *sql.Rows) ([]Participation, error) {
	var parts []Participation
	for rows.Next() {
		var p Participation
		if err := scanParticipation(rows, &p); err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// --- Challenge Log Methods ---

const challengeLogColumns = `id, challenge_id, user_id, date, status`

func scanChallengeLog(scanner interface{ Scan(...any) error }, l *ChallengeLog) error {
	return scanner.Scan(&l.ID, &l.ChallengeID, &l.UserID, &l.Date, &l.Status)
}

// CreateChallengeLogIfAbsent inserts a log row keyed by
// (challenge, user, date). Returns false when the row already exists.
func (d *DB) CreateChallengeLogIfAbsent(challengeID, userID int64, date, status string) (bool, error) {
	res, err := d.conn.Exec(
		`INSERT INTO challenge_logs (challenge_id, user_id, date, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(challenge_id, user_id, date) DO NOTHING`,
		challengeID, userID, date, status,
	)
	if err != nil {
		return false, fmt.Errorf("create challenge log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("challenge log rows affected: %w", err)
	}
	return n > 0, nil
}

// GetChallengeLog retrieves a single log row by ID. Returns nil if not found.
func (d *DB) GetChallengeLog(id int64) (*ChallengeLog, error) {
	l := &ChallengeLog{}
	row := d.conn.QueryRow(`SELECT `+challengeLogColumns+` FROM challenge_logs WHERE id = ?`, id)
	if err := scanChallengeLog(row, l); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get challenge log %d: %w", id, err)
	}
	return l, nil
}

// ChallengeLogs returns all log rows for a (user, challenge) pair ordered
// by date descending.
func (d *DB) ChallengeLogs(userID, challengeID int64) ([]ChallengeLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+challengeLogColumns+` FROM challenge_logs
		 WHERE user_id = ? AND challenge_id = ? ORDER BY date DESC`,
		userID, challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("challenge logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectChallengeLogs(rows)
}

// LatestChallengeLogDate returns the most recent log date for a
// (challenge, user) pair, or nil when there are no logs yet.
func (d *DB) LatestChallengeLogDate(challengeID, userID int64) (*string, error) {
	var date string
	err := d.conn.QueryRow(
		`SELECT date FROM challenge_logs WHERE challenge_id = ? AND user_id = ? ORDER BY date DESC LIMIT 1`,
		challengeID, userID,
	).Scan(&date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest challenge log date: %w", err)
	}
	return &date, nil
}

// StaleRemainingChallengeLogs returns the user's remaining rows dated
// strictly before the given date.
func (d *DB) StaleRemainingChallengeLogs(userID int64, before string) ([]ChallengeLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+challengeLogColumns+` FROM challenge_logs
		 WHERE user_id = ? AND status = 'remaining' AND date < ?`,
		userID, before,
	)
	if err != nil {
		return nil, fmt.Errorf("stale remaining challenge logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectChallengeLogs(rows)
}

// ChallengeLogsOn returns all of a user's challenge log rows for one date.
func (d *DB) ChallengeLogsOn(userID int64, date string) ([]ChallengeLog, error) {
	rows, err := d.conn.Query(
		`SELECT `+challengeLogColumns+` FROM challenge_logs WHERE user_id = ? AND date = ?`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("challenge logs on %s: %w", date, err)
	}
	defer rows.Close() //nolint:errcheck
	return collectChallengeLogs(rows)
}

// UpdateChallengeLogStatus transitions a single log row.
func (d *DB) UpdateChallengeLogStatus(id int64, status string) error {
	_, err := d.conn.Exec(`UPDATE challenge_logs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update challenge log %d: %w", id, err)
	}
	return nil
}

// UpdateChallengeLogStatusBulk transitions a set of log rows by ID.
func (d *DB) UpdateChallengeLogStatusBulk(ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := bulkStatusUpdate("challenge_logs", ids, status)
	if _, err := d.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("bulk update challenge logs: %w", err)
	}
	return nil
}

func collectChallengeLogs(rows *sql.Rows) ([]ChallengeLog, error) {
	var logs []ChallengeLog
	for rows.Next() {
		var l ChallengeLog
		if err := scanChallengeLog(rows, &l); err != nil {
			return nil, fmt.Errorf("scan challenge log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func bulkStatusUpdate(table string, ids []int64, status string) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}
	return fmt.Sprintf(`UPDATE %s SET status = ? WHERE id IN (%s)`, table, placeholders), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
