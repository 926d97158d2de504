package reconcile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/logging"
	"github.com/fyrsmithlabs/memsync/internal/metastore"
	"github.com/fyrsmithlabs/memsync/internal/reconcile"
	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func noEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

// TestRun_JSONAndChromem reconciles a JSON file against a chromem-go
// database on disk and checks both ends after the commit.
func TestRun_JSONAndChromem(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	dbPath := filepath.Join(root, "vectorstore")
	db, err := chromem.NewPersistentDB(dbPath, false)
	require.NoError(t, err)
	coll, err := db.CreateCollection("memories", nil, noEmbedding)
	require.NoError(t, err)
	for _, id := range []string{"1", "2", "3", "40", "41"} {
		require.NoError(t, coll.AddDocument(ctx, chromem.Document{ID: id, Content: id, Embedding: []float32{0, 1}}))
	}

	jsonPath := filepath.Join(root, "longterm.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
  {"vector_id": 1, "original": "Prefers dark mode", "subject": "ui", "timestamp": 1},
  {"vector_id": 2, "original": "prefers  DARK mode", "subject": "ui", "timestamp": 2, "source": "chat"},
  {"vector_id": 3, "original": "Uses vim", "subject": "editor", "timestamp": 3},
  {"vector_id": 9, "original": "lost vector", "subject": "misc"},
  {"vector_id": null, "original": "no id"}
]`), 0o600))

	logger := zaptest.NewLogger(t)
	store, err := metastore.Open(ctx, "", jsonPath, logger)
	require.NoError(t, err)
	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Path: dbPath, CollectionName: "memories"}, logger)
	require.NoError(t, err)

	backupDir := filepath.Join(root, "backups")
	engine := reconcile.NewEngine(store, index, backup.New(backup.Options{Dir: backupDir, Compress: true}, logger), logging.NewTestLogger().Logger)

	report, err := engine.Run(ctx, reconcile.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Loaded)
	assert.Equal(t, 1, report.InvalidID)
	assert.Equal(t, 1, report.OrphanRecords)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 4, report.TotalRemovals)
	assert.Equal(t, 3, report.Removed, "id 9 was never indexed")
	assert.FileExists(t, report.MetadataBackup)
	assert.FileExists(t, report.IndexBackup)

	ids, err := index.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids.Sorted())

	written, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, `[
  {
    "vector_id": 3,
    "original": "Uses vim",
    "subject": "editor",
    "timestamp": 3
  },
  {
    "vector_id": 2,
    "original": "prefers  DARK mode",
    "subject": "ui",
    "timestamp": 2,
    "source": "chat"
  }
]`, string(written))

	again, err := engine.Run(ctx, reconcile.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, again.InSync())
}
