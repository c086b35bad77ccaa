// Package store persists session logs and their human-readable summaries.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vincentbai/browsetrace/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Store persists session logs under a caller-chosen id.
type Store interface {
	Save(ctx context.Context, id string, log *models.Log) error
	SaveSummary(ctx context.Context, id string, log *models.Log) error
	// Load returns ErrNotFound when no session exists under id.
	Load(ctx context.Context, id string) (*models.Log, error)
}

// ValidateID rejects ids that cannot name a session file.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.ContainsRune(id, 0) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}
