package repository

import (
	"context"

	"selftreat/internal/domain"
)

// DiseaseRepository exposes persistence operations for catalog entries.
// Update and Delete report the number of affected entries, which is always 1
// on success.
type DiseaseRepository interface {
	ListDiseases(ctx context.Context) ([]domain.Disease, error)
	GetDisease(ctx context.Context, id int64) (*domain.Disease, error)
	CreateDisease(ctx context.Context, input domain.DiseaseInput) (int64, error)
	UpdateDisease(ctx context.Context, id int64, input domain.DiseaseInput) (int64, error)
	DeleteDisease(ctx context.Context, id int64) (int64, error)
}
