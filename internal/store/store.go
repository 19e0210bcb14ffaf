// Package store persists saved analyses: a name, the question that produced
// the SQL, and the SQL itself. Results are never stored; re-running the SQL
// is the source of truth.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Analysis struct {
	Name      string    `json:"name"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var ErrNotFound = errors.New("analysis not found")

// Store is the saved-analysis contract. Save overwrites on name collision,
// last writer wins.
type Store interface {
	Save(ctx context.Context, name, question, sql string) (Analysis, error)
	List(ctx context.Context) ([]Analysis, error)
	Load(ctx context.Context, name string) (Analysis, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

const maxNameLength = 128

// ValidateName rejects names that cannot serve as a stable key across all
// backends. Slashes are excluded because the s3 backend maps names to object
// keys.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("analysis name is required")
	}
	if trimmed != name {
		return fmt.Errorf("analysis name must not have leading or trailing whitespace")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("analysis name exceeds %d characters", maxNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("analysis name must not contain path separators")
	}
	return nil
}
