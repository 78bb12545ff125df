package cache

import (
	"context"
	"time"

	"konsinyasi/backend/internal/domain"
)

type RiskCache interface {
	Get(ctx context.Context, key string) (*domain.RiskAssessment, bool, error)
	Set(ctx context.Context, key string, value *domain.RiskAssessment, ttl time.Duration) error
}

type NoopRiskCache struct{}

func (NoopRiskCache) Get(_ context.Context, _ string) (*domain.RiskAssessment, bool, error) {
	return nil, false, nil
}

func (NoopRiskCache) Set(_ context.Context, _ string, _ *domain.RiskAssessment, _ time.Duration) error {
	return nil
}
