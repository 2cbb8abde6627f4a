package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"selftreat/internal/domain"
	"selftreat/internal/repository/jsonfile"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T, admin domain.Admin) *jsonfile.Store {
	t.Helper()
	store := jsonfile.NewStore(jsonfile.Config{
		Path:   filepath.Join(t.TempDir(), "data.json"),
		Logger: quietLogger(),
	})
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background(), admin))
	return store
}
