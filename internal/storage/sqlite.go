package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: dbPath,
	}, nil
}

// Initialize creates the database schema.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_profile (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		rating INTEGER NOT NULL DEFAULT 1500,
		wins INTEGER NOT NULL DEFAULT 0,
		loses INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		avatar_url TEXT
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS battles (
		id TEXT PRIMARY KEY,
		player1 TEXT NOT NULL,
		player2 TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		winner_id TEXT NOT NULL,
		log_json TEXT NOT NULL,
		verdict_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_battles_created_at ON battles(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_battles_player1 ON battles(player1);
	CREATE INDEX IF NOT EXISTS idx_battles_player2 ON battles(player2);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return wrapErr("initialize", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetSubject retrieves a subject by ID.
func (s *SQLiteStorage) GetSubject(id string) (*core.Subject, error) {
	var subject core.Subject
	err := s.db.QueryRow(`SELECT id, title, body FROM subjects WHERE id = ?`, id).
		Scan(&subject.ID, &subject.Title, &subject.Body)
	if err == sql.ErrNoRows {
		return nil, &Error{Kind: KindNotFound, Op: "get_subject"}
	}
	if err != nil {
		return nil, wrapErr("get_subject", err)
	}
	return &subject, nil
}

// ListSubjects returns all subjects.
func (s *SQLiteStorage) ListSubjects() ([]*core.Subject, error) {
	rows, err := s.db.Query(`SELECT id, title, body FROM subjects ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list_subjects", err)
	}
	defer rows.Close()

	var subjects []*core.Subject
	for rows.Next() {
		var subject core.Subject
		if err := rows.Scan(&subject.ID, &subject.Title, &subject.Body); err != nil {
			return nil, wrapErr("list_subjects", err)
		}
		subjects = append(subjects, &subject)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_subjects", err)
	}
	return subjects, nil
}

// InsertSubject inserts a subject, failing with Conflict on duplicate ID.
func (s *SQLiteStorage) InsertSubject(subject *core.Subject) error {
	_, err := s.db.Exec(`INSERT INTO subjects (id, title, body) VALUES (?, ?, ?)`,
		subject.ID, subject.Title, subject.Body)
	if err != nil {
		return wrapErr("insert_subject", err)
	}
	return nil
}

// GetProfile retrieves a profile, creating the default one when absent.
func (s *SQLiteStorage) GetProfile(userID string) (*core.Profile, error) {
	profile, err := s.scanProfile(userID)
	if err == nil {
		return profile, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	// Unknown user: create the default profile.
	_, err = s.db.Exec(
		`INSERT INTO user_profile (user_id, display_name, rating, wins, loses, is_admin) VALUES (?, ?, 1500, 0, 0, 0)`,
		userID, userID)
	if err != nil {
		// A concurrent insert may have won the race; re-read before failing.
		if profile, rerr := s.scanProfile(userID); rerr == nil {
			return profile, nil
		}
		return nil, wrapErr("get_profile", err)
	}

	return s.scanProfile(userID)
}

func (s *SQLiteStorage) scanProfile(userID string) (*core.Profile, error) {
	var profile core.Profile
	var isAdmin int
	var avatar sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, display_name, rating, wins, loses, is_admin, avatar_url FROM user_profile WHERE user_id = ?`,
		userID).
		Scan(&profile.UserID, &profile.DisplayName, &profile.Rating, &profile.Wins, &profile.Loses, &isAdmin, &avatar)
	if err == sql.ErrNoRows {
		return nil, &Error{Kind: KindNotFound, Op: "get_profile"}
	}
	if err != nil {
		return nil, wrapErr("get_profile", err)
	}
	profile.IsAdmin = isAdmin != 0
	profile.AvatarURL = avatar.String
	return &profile, nil
}

// UpdateProfile applies a partial update to a profile.
func (s *SQLiteStorage) UpdateProfile(userID string, update ProfileUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if update.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *update.DisplayName)
	}
	if update.Rating != nil {
		sets = append(sets, "rating = ?")
		args = append(args, *update.Rating)
	}
	if update.Wins != nil {
		sets = append(sets, "wins = ?")
		args = append(args, *update.Wins)
	}
	if update.Loses != nil {
		sets = append(sets, "loses = ?")
		args = append(args, *update.Loses)
	}
	if update.IsAdmin != nil {
		sets = append(sets, "is_admin = ?")
		if *update.IsAdmin {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if update.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *update.AvatarURL)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE user_profile SET %s WHERE user_id = ?`, strings.Join(sets, ", "))
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return wrapErr("update_profile", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update_profile", err)
	}
	if affected == 0 {
		return &Error{Kind: KindNotFound, Op: "update_profile"}
	}
	return nil
}

// InsertBattle persists a finished battle record.
func (s *SQLiteStorage) InsertBattle(record *BattleRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO battles (id, player1, player2, subject_id, winner_id, log_json, verdict_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Player1, record.Player2, record.SubjectID, record.WinnerID,
		record.LogJSON, record.VerdictJSON, record.CreatedAt)
	if err != nil {
		return wrapErr("insert_battle", err)
	}
	return nil
}

// GetBattle retrieves a battle record by ID.
func (s *SQLiteStorage) GetBattle(id string) (*BattleRecord, error) {
	var record BattleRecord
	err := s.db.QueryRow(
		`SELECT id, player1, player2, subject_id, winner_id, log_json, verdict_json, created_at
		 FROM battles WHERE id = ?`, id).
		Scan(&record.ID, &record.Player1, &record.Player2, &record.SubjectID, &record.WinnerID,
			&record.LogJSON, &record.VerdictJSON, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &Error{Kind: KindNotFound, Op: "get_battle"}
	}
	if err != nil {
		return nil, wrapErr("get_battle", err)
	}
	return &record, nil
}

// ListBattles returns finished battles, newest first.
func (s *SQLiteStorage) ListBattles(limit, offset int) ([]*BattleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, player1, player2, subject_id, winner_id, log_json, verdict_json, created_at
		 FROM battles ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrapErr("list_battles", err)
	}
	defer rows.Close()

	var records []*BattleRecord
	for rows.Next() {
		var record BattleRecord
		if err := rows.Scan(&record.ID, &record.Player1, &record.Player2, &record.SubjectID,
			&record.WinnerID, &record.LogJSON, &record.VerdictJSON, &record.CreatedAt); err != nil {
			return nil, wrapErr("list_battles", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_battles", err)
	}
	return records, nil
}

// wrapErr classifies a sqlite error into a kinded storage error.
func wrapErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return &Error{Kind: KindConflict, Op: op, Err: err}
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
