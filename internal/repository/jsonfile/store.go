package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"selftreat/internal/domain"
	"selftreat/internal/repository"
)

// Config controls where and how the document is written.
type Config struct {
	Path string
	// AtomicWrite writes to a temporary file and renames it over Path.
	// When false the document file is overwritten in place.
	AtomicWrite bool
	Logger      *logrus.Logger
}

// Store keeps the whole document in memory and writes it back in full
// after every mutation. Mutations are applied one at a time by a single
// writer goroutine; reads are served from the in-memory mirror.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	admins   []domain.Admin
	diseases map[int64]*domain.Disease
	order    []int64
	nextID   int64

	mutations chan mutation
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type mutation struct {
	apply func() (int64, error)
	reply chan mutationResult
}

type mutationResult struct {
	n   int64
	err error
}

var _ repository.Store = (*Store)(nil)

// NewStore returns a Store and starts its writer. Call Init before use.
func NewStore(cfg Config) *Store {
	if cfg.Path == "" {
		cfg.Path = "data/data.json"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	s := &Store{
		cfg:       cfg,
		diseases:  make(map[int64]*domain.Disease),
		nextID:    1,
		mutations: make(chan mutation),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case m := <-s.mutations:
			n, err := m.apply()
			m.reply <- mutationResult{n: n, err: err}
		case <-s.quit:
			return
		}
	}
}

// submit hands a mutation to the writer and waits for its result. Once the
// writer has accepted it the mutation runs to completion regardless of ctx.
func (s *Store) submit(ctx context.Context, apply func() (int64, error)) (int64, error) {
	m := mutation{apply: apply, reply: make(chan mutationResult, 1)}
	select {
	case s.mutations <- m:
	case <-s.quit:
		return 0, repository.ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	res := <-m.reply
	return res.n, res.err
}

// Close stops the writer. Pending reads keep working on the last state.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	return nil
}

func (s *Store) Init(ctx context.Context, defaultAdmin domain.Admin) error {
	_, err := s.submit(ctx, func() (int64, error) {
		doc, err := s.load()
		if err != nil {
			s.cfg.Logger.Warnf("document %s unavailable, creating a new one: %v", s.cfg.Path, err)
			s.mu.Lock()
			s.replace(&domain.Document{NextID: 1})
			s.appendAdmin(defaultAdmin)
			s.mu.Unlock()
			if err := s.persist(); err != nil {
				return 0, err
			}
			s.cfg.Logger.Infof("default admin %q created", defaultAdmin.Username)
			return 0, nil
		}

		s.mu.Lock()
		s.replace(doc)
		seeded := len(s.admins) == 0
		if seeded {
			s.appendAdmin(defaultAdmin)
		}
		diseases, admins := len(s.order), len(s.admins)
		s.mu.Unlock()

		s.cfg.Logger.Infof("document loaded from %s (%d diseases, %d admins)", s.cfg.Path, diseases, admins)
		if seeded {
			s.cfg.Logger.Infof("default admin %q created", defaultAdmin.Username)
			return 0, s.persist()
		}
		return 0, nil
	})
	return err
}

func (s *Store) load() (*domain.Document, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// replace swaps the in-memory state for doc. Callers hold s.mu.
func (s *Store) replace(doc *domain.Document) {
	s.admins = append([]domain.Admin(nil), doc.Admins...)
	s.diseases = make(map[int64]*domain.Disease, len(doc.Diseases))
	s.order = make([]int64, 0, len(doc.Diseases))

	var maxID int64
	for i := range doc.Diseases {
		d := doc.Diseases[i]
		if _, dup := s.diseases[d.ID]; dup {
			s.cfg.Logger.Warnf("document %s: duplicate disease id %d ignored", s.cfg.Path, d.ID)
			continue
		}
		s.diseases[d.ID] = &d
		s.order = append(s.order, d.ID)
		if d.ID > maxID {
			maxID = d.ID
		}
	}

	// the counter must stay ahead of every stored id
	s.nextID = doc.NextID
	if s.nextID <= maxID {
		s.nextID = maxID + 1
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
}

// appendAdmin adds admin, filling in id and creation time. Callers hold s.mu.
func (s *Store) appendAdmin(admin domain.Admin) int64 {
	if admin.ID == 0 {
		for _, a := range s.admins {
			if a.ID > admin.ID {
				admin.ID = a.ID
			}
		}
		admin.ID++
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = domain.Now()
	}
	s.admins = append(s.admins, admin)
	return admin.ID
}

// document builds a deep copy of the state. Callers hold s.mu.
func (s *Store) document() *domain.Document {
	doc := &domain.Document{
		Admins:   append([]domain.Admin{}, s.admins...),
		Diseases: make([]domain.Disease, 0, len(s.order)),
		NextID:   s.nextID,
	}
	for _, id := range s.order {
		doc.Diseases = append(doc.Diseases, *s.diseases[id])
	}
	return doc
}

// persist serializes the full document. Only the writer goroutine calls it,
// so the state cannot change between the snapshot and the write.
func (s *Store) persist() error {
	s.mu.RLock()
	doc := s.document()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := writeFile(s.cfg.Path, data, s.cfg.AtomicWrite); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte, atomic bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	if !atomic {
		return os.WriteFile(path, data, 0o644)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Snapshot(ctx context.Context) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document(), nil
}

func (s *Store) CreateAdmin(ctx context.Context, admin *domain.Admin) (int64, error) {
	return s.submit(ctx, func() (int64, error) {
		s.mu.Lock()
		for _, a := range s.admins {
			if a.Username == admin.Username {
				s.mu.Unlock()
				return 0, fmt.Errorf("admin %q: %w", admin.Username, repository.ErrAlreadyExists)
			}
		}
		id := s.appendAdmin(*admin)
		admin.ID = id
		admin.CreatedAt = s.admins[len(s.admins)-1].CreatedAt
		s.mu.Unlock()

		if err := s.persist(); err != nil {
			return 0, err
		}
		return id, nil
	})
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.admins {
		if a.Username == username {
			admin := a
			return &admin, nil
		}
	}
	return nil, fmt.Errorf("admin %q: %w", username, repository.ErrNotFound)
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.admins), nil
}

func (s *Store) ListDiseases(ctx context.Context) ([]domain.Disease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Disease, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.diseases[id])
	}
	return out, nil
}

func (s *Store) GetDisease(ctx context.Context, id int64) (*domain.Disease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diseases[id]
	if !ok {
		return nil, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
	}
	out := *d
	return &out, nil
}

func (s *Store) CreateDisease(ctx context.Context, input domain.DiseaseInput) (int64, error) {
	return s.submit(ctx, func() (int64, error) {
		s.mu.Lock()
		now := domain.Now()
		d := &domain.Disease{
			ID:        s.nextID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		input.Apply(d)
		s.nextID++
		s.diseases[d.ID] = d
		s.order = append(s.order, d.ID)
		s.mu.Unlock()

		if err := s.persist(); err != nil {
			return 0, err
		}
		return d.ID, nil
	})
}

func (s *Store) UpdateDisease(ctx context.Context, id int64, input domain.DiseaseInput) (int64, error) {
	return s.submit(ctx, func() (int64, error) {
		s.mu.Lock()
		d, ok := s.diseases[id]
		if !ok {
			s.mu.Unlock()
			return 0, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
		}
		input.Apply(d)
		d.UpdatedAt = domain.Now()
		if d.UpdatedAt.Before(d.CreatedAt) {
			d.UpdatedAt = d.CreatedAt
		}
		s.mu.Unlock()

		if err := s.persist(); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (s *Store) DeleteDisease(ctx context.Context, id int64) (int64, error) {
	return s.submit(ctx, func() (int64, error) {
		s.mu.Lock()
		if _, ok := s.diseases[id]; !ok {
			s.mu.Unlock()
			return 0, fmt.Errorf("disease %d: %w", id, repository.ErrNotFound)
		}
		delete(s.diseases, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.mu.Unlock()

		if err := s.persist(); err != nil {
			return 0, err
		}
		return 1, nil
	})
}
