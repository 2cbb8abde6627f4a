package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"selftreat/internal/domain"
	"selftreat/internal/repository"
)

var testAdmin = domain.Admin{Username: "ranigarima", PasswordHash: "$2a$10$hash"}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openStore(t *testing.T, path string, atomic bool) *Store {
	t.Helper()
	s := NewStore(Config{Path: path, AtomicWrite: atomic, Logger: quietLogger()})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background(), testAdmin))
	return s
}

func readDocument(t *testing.T, path string) domain.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc domain.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func writeDocument(t *testing.T, path string, doc domain.Document) {
	t.Helper()
	data, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestInit_CreatesDocumentWithDefaultAdmin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	s := openStore(t, path, false)

	doc := readDocument(t, path)
	require.Len(t, doc.Admins, 1)
	require.Equal(t, int64(1), doc.Admins[0].ID)
	require.Equal(t, "ranigarima", doc.Admins[0].Username)
	require.Empty(t, doc.Diseases)
	require.Equal(t, int64(1), doc.NextID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "{\n  \"admins\""), "document should be pretty printed")

	count, err := s.CountAdmins(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestInit_CorruptDocumentIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	openStore(t, path, false)

	doc := readDocument(t, path)
	require.Len(t, doc.Admins, 1)
	require.Equal(t, int64(1), doc.NextID)
}

func TestInit_LoadedDocumentIsNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	writeDocument(t, path, domain.Document{
		Admins: []domain.Admin{{ID: 1, Username: "someone", PasswordHash: "x", CreatedAt: domain.Now()}},
		NextID: 3,
	})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	s := openStore(t, path, false)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = s.GetAdminByUsername(context.Background(), "ranigarima")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInit_AddsAdminWhenCollectionEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	writeDocument(t, path, domain.Document{NextID: 1})

	s := openStore(t, path, false)

	admin, err := s.GetAdminByUsername(context.Background(), "ranigarima")
	require.NoError(t, err)
	require.Equal(t, int64(1), admin.ID)
	require.Len(t, readDocument(t, path).Admins, 1)
}

func TestCreateDisease_UsesStoredCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	writeDocument(t, path, domain.Document{
		Admins: []domain.Admin{{ID: 1, Username: "ranigarima", PasswordHash: "x"}},
		NextID: 5,
	})
	s := openStore(t, path, false)

	id, err := s.CreateDisease(context.Background(), domain.DiseaseInput{Name: "Flu", Treatment: "Rest"})
	require.NoError(t, err)
	require.Equal(t, int64(5), id)
	require.Equal(t, int64(6), readDocument(t, path).NextID)
}

func TestInit_CounterStaysAheadOfStoredIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	writeDocument(t, path, domain.Document{
		Admins:   []domain.Admin{{ID: 1, Username: "ranigarima", PasswordHash: "x"}},
		Diseases: []domain.Disease{{ID: 9, Name: "Measles", Treatment: "Supportive care"}},
		NextID:   2,
	})
	s := openStore(t, path, false)

	id, err := s.CreateDisease(context.Background(), domain.DiseaseInput{Name: "Mumps", Treatment: "Rest"})
	require.NoError(t, err)
	require.Equal(t, int64(10), id)
}

func TestCreateAndGetDisease(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()

	id, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "Asthma", Treatment: "Inhaler"})
	require.NoError(t, err)

	got, err := s.GetDisease(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "Asthma", got.Name)
	require.Equal(t, "", got.Description)
	require.Equal(t, "", got.Symptoms)
	require.Equal(t, "Inhaler", got.Treatment)
	require.False(t, got.CreatedAt.IsZero())
	require.Equal(t, got.CreatedAt, got.UpdatedAt)

	// returned values are copies
	got.Name = "changed"
	again, err := s.GetDisease(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Asthma", again.Name)
}

func TestUpdateDisease(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()

	id, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "Flu", Description: "d", Treatment: "Rest"})
	require.NoError(t, err)
	before, err := s.GetDisease(ctx, id)
	require.NoError(t, err)

	n, err := s.UpdateDisease(ctx, id, domain.DiseaseInput{Name: "Influenza", Symptoms: "fever", Treatment: "Fluids"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	after, err := s.GetDisease(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, after.ID)
	require.Equal(t, before.CreatedAt, after.CreatedAt)
	require.False(t, after.UpdatedAt.Before(before.UpdatedAt))
	require.Equal(t, "Influenza", after.Name)
	require.Equal(t, "", after.Description)
	require.Equal(t, "fever", after.Symptoms)
	require.Equal(t, "Fluids", after.Treatment)

	_, err = s.UpdateDisease(ctx, 999, domain.DiseaseInput{Name: "x", Treatment: "y"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteDisease(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()

	first, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "A", Treatment: "t"})
	require.NoError(t, err)
	second, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "B", Treatment: "t"})
	require.NoError(t, err)

	n, err := s.DeleteDisease(ctx, first)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.GetDisease(ctx, first)
	require.ErrorIs(t, err, repository.ErrNotFound)

	list, err := s.ListDiseases(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, second, list[0].ID)

	_, err = s.DeleteDisease(ctx, first)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCounterNeverReused(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()

	a, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "A", Treatment: "t"})
	require.NoError(t, err)
	b, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "B", Treatment: "t"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = s.DeleteDisease(ctx, b)
	require.NoError(t, err)

	c, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "C", Treatment: "t"})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
	require.NotEqual(t, b, c)
	require.Greater(t, c, b)
}

func TestStateSurvivesReopen(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "data.json")
		ctx := context.Background()

		s := NewStore(Config{Path: path, AtomicWrite: atomic, Logger: quietLogger()})
		require.NoError(t, s.Init(ctx, testAdmin))
		id, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "Zika", Symptoms: "rash", Treatment: "Rest"})
		require.NoError(t, err)
		require.NoError(t, s.Close())

		reopened := openStore(t, path, atomic)
		got, err := reopened.GetDisease(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "Zika", got.Name)
		require.Equal(t, "rash", got.Symptoms)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1, "no temporary files should be left behind")
	}
}

func TestCreateAdmin_RejectsDuplicateUsername(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()

	admin := &domain.Admin{Username: "second", PasswordHash: "x"}
	id, err := s.CreateAdmin(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
	require.Equal(t, id, admin.ID)

	_, err = s.CreateAdmin(ctx, &domain.Admin{Username: "second", PasswordHash: "y"})
	require.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.json"), false)
	ctx := context.Background()
	_, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "A", Treatment: "t"})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Diseases, 1)
	require.Equal(t, int64(2), snap.NextID)
	snap.Diseases[0].Name = "mutated"

	list, err := s.ListDiseases(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", list[0].Name)
}

func TestConcurrentCreatesReceiveDistinctIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s := openStore(t, path, false)
	ctx := context.Background()

	const workers = 20
	ids := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.CreateDisease(ctx, domain.DiseaseInput{Name: "X", Treatment: "t"})
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Len(t, seen, workers)
	require.Len(t, readDocument(t, path).Diseases, workers)
}

func TestClosedStoreRejectsMutations(t *testing.T) {
	s := NewStore(Config{Path: filepath.Join(t.TempDir(), "data.json"), Logger: quietLogger()})
	require.NoError(t, s.Init(context.Background(), testAdmin))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.CreateDisease(context.Background(), domain.DiseaseInput{Name: "A", Treatment: "t"})
	require.True(t, errors.Is(err, repository.ErrClosed))
}

func TestWriteFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	s := openStore(t, path, false)

	// a directory in place of the file makes every write fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err := s.CreateDisease(context.Background(), domain.DiseaseInput{Name: "A", Treatment: "t"})
	require.Error(t, err)
	require.False(t, errors.Is(err, repository.ErrNotFound))
}

func TestTimestampsStoredWithMilliseconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s := openStore(t, path, false)

	_, err := s.CreateDisease(context.Background(), domain.DiseaseInput{Name: "Flu", Treatment: "Rest"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	stamp := regexp.MustCompile(`"(created|updated)_at": "([^"]*)"`)
	matches := stamp.FindAllStringSubmatch(string(data), -1)
	require.Len(t, matches, 3) // admin created_at plus the disease pair
	for _, m := range matches {
		require.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, m[2])
	}
}
