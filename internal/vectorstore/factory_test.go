package vectorstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memsync/internal/config"
	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestOpenIndex_UnsupportedProvider(t *testing.T) {
	_, err := vectorstore.OpenIndex(context.Background(), config.IndexConfig{Provider: "pinecone"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "pinecone")
}

func TestOpenIndex_ChromemDefault(t *testing.T) {
	dir := seedChromem(t, false, "memories", "5", "6")

	cfg := config.IndexConfig{}
	cfg.Chromem.Path = dir
	cfg.Chromem.Collection = "memories"

	idx, err := vectorstore.OpenIndex(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer idx.Close()

	assert.Contains(t, idx.Location(), "chromem:")
	ids, err := idx.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids.Sorted())
}

func TestOpenIndex_ChromemMissingPath(t *testing.T) {
	cfg := config.IndexConfig{Provider: "chromem"}
	cfg.Chromem.Path = filepath.Join(t.TempDir(), "missing")
	cfg.Chromem.Collection = "memories"

	_, err := vectorstore.OpenIndex(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)
	assert.Contains(t, err.Error(), "opening chromem index")
}

func TestOpenIndex_QdrantAPIKeyNeverLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	cfg := config.IndexConfig{Provider: "qdrant"}
	cfg.Qdrant.Host = "127.0.0.1"
	cfg.Qdrant.Port = 1
	cfg.Qdrant.Collection = "memories"
	cfg.Qdrant.APIKey = config.Secret("qd-live-key")
	cfg.Qdrant.Timeout = config.Duration(500 * time.Millisecond)

	_, err := vectorstore.OpenIndex(context.Background(), cfg, zap.New(core))
	assert.ErrorIs(t, err, vectorstore.ErrConnectionFailed)

	warned := logs.FilterMessageSnippet("plaintext gRPC").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "[REDACTED:11]", warned[0].ContextMap()["api_key"])
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "qd-live-key")
		}
	}
}
