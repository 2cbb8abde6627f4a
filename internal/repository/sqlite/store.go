package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"selftreat/internal/domain"
	"selftreat/internal/repository"
)

const nextDiseaseIDKey = "next_disease_id"

var schema = []string{
	`
CREATE TABLE IF NOT EXISTS admins (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS diseases (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	symptoms TEXT NOT NULL DEFAULT '',
	treatment TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`,
}

// Store keeps each admin and disease in its own row. Disease ids come from
// a counter row in the meta table so deleted ids are never handed out again.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Init(ctx context.Context, defaultAdmin domain.Admin) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES (?, 1)`, nextDiseaseIDKey); err != nil {
		return fmt.Errorf("seed id counter: %w", err)
	}

	count, err := s.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		admin := defaultAdmin
		if _, err := s.CreateAdmin(ctx, &admin); err != nil {
			return fmt.Errorf("create default admin: %w", err)
		}
		s.logger.Infof("default admin %q created", admin.Username)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateAdmin(ctx context.Context, admin *domain.Admin) (int64, error) {
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = domain.Now()
	}

	var id any
	if admin.ID != 0 {
		id = admin.ID
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO admins (id, username, password_hash, created_at)
VALUES (?, ?, ?, ?)`,
		id,
		admin.Username,
		admin.PasswordHash,
		admin.CreatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, fmt.Errorf("admin %q: %w", admin.Username, repository.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert admin: %w", err)
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("admin last insert id: %w", err)
	}
	admin.ID = newID
	return newID, nil
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at
FROM admins
WHERE username = ?`,
		username,
	)
	var admin domain.Admin
	if err := row.Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("admin %q: %w", username, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan admin: %w", err)
	}
	return &admin, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

func (s *Store) ListDiseases(ctx context.Context) ([]domain.Disease, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, symptoms, treatment, created_at, updated_at
FROM diseases
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list diseases: %w", err)
	}
	defer rows.Close()

	var diseases []domain.Disease
	for rows.Next() {
		d, err := scanDisease(rows)
		if err != nil {
			return nil, err
		}
		diseases = append(diseases, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diseases: %w", err)
	}
	return diseases, nil
}

func (s *Store) GetDisease(ctx context.Context, id int64) (*domain.Disease, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, symptoms, treatment, created_at, updated_at
FROM diseases
WHERE id = ?`,
		id,
	)
	d, err := scanDisease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

func (s *Store) CreateDisease(ctx context.Context, input domain.DiseaseInput) (id int64, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, nextDiseaseIDKey).Scan(&id); err != nil {
		return 0, fmt.Errorf("read id counter: %w", err)
	}

	now := domain.Now()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO diseases (id, name, description, symptoms, treatment, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		input.Name,
		input.Description,
		input.Symptoms,
		input.Treatment,
		now,
		now,
	); err != nil {
		return 0, fmt.Errorf("insert disease: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = ?`, id+1, nextDiseaseIDKey); err != nil {
		return 0, fmt.Errorf("advance id counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit disease: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateDisease(ctx context.Context, id int64, input domain.DiseaseInput) (int64, error) {
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM diseases WHERE id = ?`, id).Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
		}
		return 0, fmt.Errorf("read disease %d: %w", id, err)
	}
	// updated_at never precedes created_at
	updatedAt := domain.Now()
	if updatedAt.Before(createdAt) {
		updatedAt = createdAt
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE diseases
SET name = ?, description = ?, symptoms = ?, treatment = ?, updated_at = ?
WHERE id = ?`,
		input.Name,
		input.Description,
		input.Symptoms,
		input.Treatment,
		updatedAt,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("update disease: %w", err)
	}
	return affectedOne(res, id)
}

func (s *Store) DeleteDisease(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diseases WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete disease: %w", err)
	}
	return affectedOne(res, id)
}

func (s *Store) Snapshot(ctx context.Context) (*domain.Document, error) {
	admins, err := s.listAdmins(ctx)
	if err != nil {
		return nil, err
	}
	diseases, err := s.ListDiseases(ctx)
	if err != nil {
		return nil, err
	}
	doc := &domain.Document{
		Admins:   admins,
		Diseases: append([]domain.Disease{}, diseases...),
	}
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, nextDiseaseIDKey).Scan(&doc.NextID); err != nil {
		return nil, fmt.Errorf("read id counter: %w", err)
	}
	return doc, nil
}

func (s *Store) listAdmins(ctx context.Context) ([]domain.Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, password_hash, created_at FROM admins ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	admins := []domain.Admin{}
	for rows.Next() {
		var a domain.Admin
		if err := rows.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admins: %w", err)
	}
	return admins, nil
}

func affectedOne(res sql.Result, id int64) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
	}
	return n, nil
}

func scanDisease(row interface {
	Scan(dest ...any) error
}) (*domain.Disease, error) {
	var d domain.Disease
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Description,
		&d.Symptoms,
		&d.Treatment,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan disease: %w", err)
	}
	return &d, nil
}
