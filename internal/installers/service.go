package installers

import (
	"context"

	"github.com/google/uuid"
)

// Reader loads installers for display.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (Installer, error)
}

// Service exposes installer reads. Counters change only through the job workflow.
type Service struct {
	repo Reader
}

// NewService builds Service.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// Get returns an installer with its counters and job history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Installer, error) {
	return s.repo.Get(ctx, id)
}
