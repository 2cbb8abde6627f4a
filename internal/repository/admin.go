package repository

import (
	"context"

	"selftreat/internal/domain"
)

// AdminRepository defines persistence operations for Admin entities.
type AdminRepository interface {
	CreateAdmin(ctx context.Context, admin *domain.Admin) (int64, error)
	GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error)
	CountAdmins(ctx context.Context) (int, error)
}
