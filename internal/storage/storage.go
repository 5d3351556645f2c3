// Package storage provides persistence for profiles, subjects and battle records.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// Kind classifies a storage failure so callers can pick a policy.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindTransient Kind = "transient"
)

// Error is a kinded storage error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("storage %s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found storage error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsTransient reports whether err is a transient storage error.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransient
}

// ProfileUpdate is a partial profile mutation; nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string
	Rating      *int
	Wins        *int
	Loses       *int
	IsAdmin     *bool
	AvatarURL   *string
}

// BattleRecord is a persisted finished battle.
type BattleRecord struct {
	ID          string    `json:"id"`
	Player1     string    `json:"player1"` // agree side
	Player2     string    `json:"player2"` // disagree side
	SubjectID   string    `json:"subjectId"`
	WinnerID    string    `json:"winnerId"`
	LogJSON     string    `json:"logJson"`
	VerdictJSON string    `json:"verdictJson"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Storage is the narrow gateway the engine talks to. No business logic lives
// behind it.
type Storage interface {
	// Initialize sets up the storage (creates tables, etc.)
	Initialize() error

	// Close closes the storage connection.
	Close() error

	// Subject operations
	GetSubject(id string) (*core.Subject, error)
	ListSubjects() ([]*core.Subject, error)
	InsertSubject(subject *core.Subject) error

	// Profile operations. GetProfile auto-creates a default profile
	// (rating 1500, zero wins/loses) when the user is unknown.
	GetProfile(userID string) (*core.Profile, error)
	UpdateProfile(userID string, update ProfileUpdate) error

	// Battle operations
	InsertBattle(record *BattleRecord) error
	GetBattle(id string) (*BattleRecord, error)
	ListBattles(limit, offset int) ([]*BattleRecord, error)
}
