package storage

import (
	"context"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// Store defines the storage interface
type Store interface {
	SaveAttemptRecord(ctx context.Context, record types.AttemptRecord) error
	GetAttemptRecords(ctx context.Context, campaignID, dateKey string) ([]types.AttemptRecord, error)
	SavePacingConfig(ctx context.Context, campaignID string, cfg types.PacingConfig) error
	LoadPacingConfigs(ctx context.Context) (map[string]types.PacingConfig, error)
	TruncateAll(ctx context.Context) error
	Close() error
}

// NoopStore is a no-op implementation when persistence is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveAttemptRecord(context.Context, types.AttemptRecord) error { return nil }
func (s *NoopStore) GetAttemptRecords(context.Context, string, string) ([]types.AttemptRecord, error) {
	return nil, nil
}
func (s *NoopStore) SavePacingConfig(context.Context, string, types.PacingConfig) error { return nil }
func (s *NoopStore) LoadPacingConfigs(context.Context) (map[string]types.PacingConfig, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll(context.Context) error { return nil }
func (s *NoopStore) Close() error                      { return nil }
