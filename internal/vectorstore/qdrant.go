package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("memsync.vectorstore.qdrant")

const qdrantProvider = "qdrant"

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// CollectionName is the collection holding the memory vectors.
	CollectionName string

	// APIKey authenticates against Qdrant Cloud or secured deployments.
	APIKey string

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// Timeout bounds the connection health check.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// PageSize is the number of points fetched per scroll request and the
	// number of ids sent per delete request.
	// Default: 1000
	PageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.PageSize == 0 {
		c.PageSize = 1000
	}
}

// IsTransientError checks if an error is transient (should retry).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// qdrantPoints is the subset of *qdrant.Client QdrantIndex uses.
type qdrantPoints interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CreateSnapshot(ctx context.Context, collectionName string) (*qdrant.SnapshotDescription, error)
	Close() error
}

// QdrantIndex is an IDIndex over a Qdrant collection using Qdrant's native
// gRPC client.
//
// Qdrant point ids are unsigned 64-bit integers or UUIDs. Numeric ids map
// to int64 by two's complement so every int64 round-trips. A collection
// holding any UUID id cannot be listed as int64s, and ListIDs reports
// ErrListingUnsupported for it.
type QdrantIndex struct {
	client qdrantPoints
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantIndex connects to Qdrant and checks the collection exists.
//
// Returns an error if:
//   - Configuration is invalid
//   - Connection to Qdrant fails (ErrConnectionFailed)
//   - The collection does not exist (ErrCollectionNotFound)
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS && config.APIKey != "" {
		logger.Warn("qdrant API key sent over plaintext gRPC; enable use_tls",
			logging.RedactedString("api_key", config.APIKey),
		)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{client: client, config: config, logger: logger}
	if err := idx.open(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// open runs the health check and collection lookup.
func (q *QdrantIndex) open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Open")
	defer span.End()
	span.SetAttributes(attribute.String("collection", q.config.CollectionName))

	err := q.retryOperation(ctx, "health_check", func() error {
		_, err := q.client.HealthCheck(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	var exists bool
	err = q.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = q.client.CollectionExists(ctx, q.config.CollectionName)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", q.config.CollectionName, err)
	}
	if !exists {
		span.SetStatus(codes.Error, "collection not found")
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, q.config.CollectionName)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (q *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := q.config.RetryBackoff

	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, q.config.MaxRetries, err)
		}

		q.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// ListIDs scrolls the whole collection without payloads or vectors.
func (q *QdrantIndex) ListIDs(ctx context.Context) (_ IDSet, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.ListIDs")
	defer span.End()
	defer func(start time.Time) { observe(qdrantProvider, "list", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", q.config.CollectionName))

	ids := make(IDSet)
	var offset *qdrant.PointId
	for {
		var (
			points []*qdrant.RetrievedPoint
			next   *qdrant.PointId
		)
		err := q.retryOperation(ctx, "scroll", func() error {
			var err error
			points, next, err = q.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: q.config.CollectionName,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(q.config.PageSize)),
				WithPayload:    qdrant.NewWithPayload(false),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scrolling %s: %w", q.config.CollectionName, err)
		}

		for _, p := range points {
			id, ok := pointIDToInt64(p.GetId())
			if !ok {
				SkippedIDsTotal.WithLabelValues(qdrantProvider, "uuid").Inc()
				q.logger.Warn("collection uses UUID point ids; existence checks disabled",
					zap.String("collection", q.config.CollectionName),
					zap.String("id", p.GetId().GetUuid()),
				)
				span.SetAttributes(attribute.Bool("unsupported", true))
				return nil, ErrListingUnsupported
			}
			ids.Add(id)
		}

		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	span.SetAttributes(attribute.Int("ids", ids.Len()))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// pointIDToInt64 converts a numeric point id. UUID ids report false.
func pointIDToInt64(id *qdrant.PointId) (int64, bool) {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Num:
		return int64(v.Num), true
	default:
		return 0, false
	}
}

// int64ToPointID is the inverse of pointIDToInt64.
func int64ToPointID(id int64) *qdrant.PointId {
	return qdrant.NewIDNum(uint64(id))
}

// RemoveIDs deletes points in pages of PageSize and waits for each write
// to be applied. The returned count is the drop in the exact point count.
func (q *QdrantIndex) RemoveIDs(ctx context.Context, ids []int64) (removed int, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.RemoveIDs")
	defer span.End()
	span.SetAttributes(
		attribute.Int("id_count", len(ids)),
		attribute.String("collection", q.config.CollectionName),
	)

	if len(ids) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { observe(qdrantProvider, "remove", start, err) }(time.Now())

	before, err := q.count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	for start := 0; start < len(ids); start += q.config.PageSize {
		end := min(start+q.config.PageSize, len(ids))
		points := make([]*qdrant.PointId, 0, end-start)
		for _, id := range ids[start:end] {
			points = append(points, int64ToPointID(id))
		}

		err := q.retryOperation(ctx, "delete", func() error {
			_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: q.config.CollectionName,
				Wait:           qdrant.PtrOf(true),
				Points:         qdrant.NewPointsSelector(points...),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("deleting points: %w", err)
		}
	}

	after, err := q.count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	removed = int(before - after)
	if after > before {
		// A concurrent writer added points; the drop is unknown.
		q.logger.Warn("point count grew during delete",
			zap.Uint64("before", before),
			zap.Uint64("after", after),
		)
		removed = 0
	}

	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

func (q *QdrantIndex) count(ctx context.Context) (uint64, error) {
	var n uint64
	err := q.retryOperation(ctx, "count", func() error {
		var err error
		n, err = q.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: q.config.CollectionName,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return n, nil
}

// Backup creates a server-side collection snapshot. The returned location
// names the snapshot on the Qdrant server; nothing is written locally.
func (q *QdrantIndex) Backup(ctx context.Context, _ *backup.Manager) (dest string, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Backup")
	defer span.End()
	defer func(start time.Time) { observe(qdrantProvider, "backup", start, err) }(time.Now())

	var snap *qdrant.SnapshotDescription
	err = q.retryOperation(ctx, "create_snapshot", func() error {
		var err error
		snap, err = q.client.CreateSnapshot(ctx, q.config.CollectionName)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: qdrant snapshot of %s: %w", backup.ErrBackupFailed, q.config.CollectionName, err)
	}

	dest = fmt.Sprintf("qdrant-snapshot:%s/%s", q.config.CollectionName, snap.GetName())
	q.logger.Info("created qdrant snapshot",
		zap.String("collection", q.config.CollectionName),
		zap.String("snapshot", snap.GetName()),
		zap.Int64("size", snap.GetSize()),
	)
	span.SetStatus(codes.Ok, "success")
	return dest, nil
}

// Location implements IDIndex.
func (q *QdrantIndex) Location() string {
	return fmt.Sprintf("qdrant:%s:%d#%s", q.config.Host, q.config.Port, q.config.CollectionName)
}

// Close closes the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
