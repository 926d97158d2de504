package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memsync/internal/config"
	"github.com/fyrsmithlabs/memsync/internal/logging"
	"go.uber.org/zap"
)

// OpenIndex opens the IDIndex selected by cfg.Provider:
//   - "chromem" (default): a local chromem-go persistent database
//   - "qdrant": a Qdrant collection over gRPC
//
// Example usage:
//
//	idx, err := vectorstore.OpenIndex(ctx, cfg.Index, logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
func OpenIndex(ctx context.Context, cfg config.IndexConfig, logger *zap.Logger) (IDIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		idx IDIndex
		err error
	)
	switch cfg.Provider {
	case "chromem", "":
		idx, err = NewChromemIndex(ChromemConfig{
			Path:           cfg.Chromem.Path,
			CollectionName: cfg.Chromem.Collection,
			Compress:       cfg.Chromem.Compress,
		}, logger)

	case "qdrant":
		idx, err = NewQdrantIndex(ctx, QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			CollectionName: cfg.Qdrant.Collection,
			APIKey:         cfg.Qdrant.APIKey.Value(),
			UseTLS:         cfg.Qdrant.UseTLS,
			Timeout:        cfg.Qdrant.Timeout.Duration(),
			MaxRetries:     cfg.Qdrant.MaxRetries,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported index provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", providerName(cfg.Provider), err)
	}

	fields := []zap.Field{
		zap.String("provider", providerName(cfg.Provider)),
		zap.String("location", idx.Location()),
	}
	if cfg.Provider == "qdrant" && cfg.Qdrant.APIKey.IsSet() {
		fields = append(fields, logging.Secret("api_key", cfg.Qdrant.APIKey))
	}
	logger.Info("vector index opened", fields...)
	return idx, nil
}

func providerName(p string) string {
	if p == "" {
		return chromemProvider
	}
	return p
}
