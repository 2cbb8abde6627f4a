package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"selftreat/internal/domain"
	"selftreat/internal/metrics"
	"selftreat/internal/repository"
)

// ErrInvalidDisease indicates a disease input missing a required field.
var ErrInvalidDisease = errors.New("invalid disease")

// CatalogService exposes the public and admin catalog operations.
type CatalogService interface {
	ListDiseases(ctx context.Context) ([]domain.Disease, error)
	GetDisease(ctx context.Context, id int64) (*domain.Disease, error)
	SearchDiseases(ctx context.Context, query string) ([]domain.Disease, error)
	AddDisease(ctx context.Context, input domain.DiseaseInput) (int64, error)
	UpdateDisease(ctx context.Context, id int64, input domain.DiseaseInput) error
	DeleteDisease(ctx context.Context, id int64) error
}

type catalogService struct {
	diseases repository.DiseaseRepository
	locale   language.Tag
}

func NewCatalogService(diseases repository.DiseaseRepository) CatalogService {
	return &catalogService{
		diseases: diseases,
		locale:   language.English,
	}
}

// ListDiseases returns every entry ordered by name. Equal names keep their
// insertion order.
func (s *catalogService) ListDiseases(ctx context.Context) ([]domain.Disease, error) {
	diseases, err := s.diseases.ListDiseases(ctx)
	if err != nil {
		return nil, err
	}
	s.sortByName(diseases)
	return diseases, nil
}

func (s *catalogService) GetDisease(ctx context.Context, id int64) (*domain.Disease, error) {
	if id <= 0 {
		return nil, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
	}
	return s.diseases.GetDisease(ctx, id)
}

// SearchDiseases matches query case-insensitively against name, description
// and symptoms. An empty query matches everything.
func (s *catalogService) SearchDiseases(ctx context.Context, query string) ([]domain.Disease, error) {
	diseases, err := s.diseases.ListDiseases(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := make([]domain.Disease, 0, len(diseases))
	for _, d := range diseases {
		if containsFold(d.Name, needle) || containsFold(d.Description, needle) || containsFold(d.Symptoms, needle) {
			matches = append(matches, d)
		}
	}
	s.sortByName(matches)
	return matches, nil
}

func (s *catalogService) AddDisease(ctx context.Context, input domain.DiseaseInput) (int64, error) {
	if err := validateDisease(input); err != nil {
		return 0, err
	}
	id, err := s.diseases.CreateDisease(ctx, input)
	metrics.DiseaseMutations.WithLabelValues("add", metrics.Result(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("add disease: %w", err)
	}
	return id, nil
}

func (s *catalogService) UpdateDisease(ctx context.Context, id int64, input domain.DiseaseInput) error {
	if err := validateDisease(input); err != nil {
		return err
	}
	_, err := s.diseases.UpdateDisease(ctx, id, input)
	metrics.DiseaseMutations.WithLabelValues("update", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("update disease: %w", err)
	}
	return nil
}

func (s *catalogService) DeleteDisease(ctx context.Context, id int64) error {
	_, err := s.diseases.DeleteDisease(ctx, id)
	metrics.DiseaseMutations.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("delete disease: %w", err)
	}
	return nil
}

func (s *catalogService) sortByName(diseases []domain.Disease) {
	// collators keep internal buffers, so each sort gets its own
	c := collate.New(s.locale)
	sort.SliceStable(diseases, func(i, j int) bool {
		return c.CompareString(diseases[i].Name, diseases[j].Name) < 0
	})
}

func containsFold(field, lowerNeedle string) bool {
	if field == "" && lowerNeedle != "" {
		return false
	}
	return strings.Contains(strings.ToLower(field), lowerNeedle)
}

func validateDisease(input domain.DiseaseInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDisease)
	}
	if strings.TrimSpace(input.Treatment) == "" {
		return fmt.Errorf("%w: treatment is required", ErrInvalidDisease)
	}
	return nil
}
