package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunID identifies one permutation run. New ids are UUID v7 so they sort by start time.
type RunID string

// NewRunID creates a time-ordered run identifier
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}

func (id RunID) String() string { return string(id) }

// IsEmpty reports whether the id is unset
func (id RunID) IsEmpty() bool { return id == "" }

// ParseRunID accepts the canonical UUID form written into reports and logs
func ParseRunID(s string) (RunID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("run ID %q: %w", s, err)
	}
	return RunID(id.String()), nil
}
