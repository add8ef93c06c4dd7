// Package storage keeps portal install credentials. The call engine never
// reads it; it only exists so the application can call back into the portal.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no install exists for a member id.
var ErrNotFound = errors.New("install not found")

// Store persists install records keyed by member id
type Store interface {
	SaveInstall(ctx context.Context, install types.Install) error
	GetInstall(ctx context.Context, memberID string) (types.Install, error)
	// ListInstalls returns every install without its tokens.
	ListInstalls(ctx context.Context) ([]types.Install, error)
	Close() error
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "storage").Logger()

	switch cfg.Mode {
	case ModeSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("SQLite install store initialized")
		return s, nil
	case ModeDynamo:
		return NewDynamoDBStore(ctx, cfg.Dynamo, logger)
	case ModeMemory, "":
		logger.Info().Msg("in-memory install store (STORE_MODE=memory)")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.Mode)
	}
}

// redact strips credentials from an install
func redact(in types.Install) types.Install {
	in.AccessToken = ""
	in.RefreshToken = ""
	in.ApplicationToken = ""
	return in
}
