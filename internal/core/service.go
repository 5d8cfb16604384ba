package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/repoimport/internal/logging"
	"github.com/google/uuid"
)

// ErrRepositoryNotFound is returned by stores for unknown repositories.
var ErrRepositoryNotFound = errors.New("repository not found")

// ErrMissingActor is returned when an import has no user for the audit fields.
var ErrMissingActor = errors.New("import requires an acting user")

// ErrImportNotFound is returned when cancelling an import that is not running.
var ErrImportNotFound = errors.New("import not found")

// ErrImportRunning is returned when a caller-supplied import id is already in use.
var ErrImportRunning = errors.New("import already running")

// ServiceConfig holds the import settings the service applies to every batch.
type ServiceConfig struct {
	MaxConcurrent      int
	MaxWait            time.Duration
	Timeout            time.Duration
	IDPrefix           string
	DateFormat         string
	OverwriteWithEmpty bool
	LockExisting       bool
}

// Service runs spreadsheet imports against a Store.
type Service struct {
	store   Store
	cfg     ServiceConfig
	limiter *ImportLimiter
	metrics *metrics
	now     func() time.Time

	mu      sync.Mutex
	imports map[string]context.CancelFunc
}

// NewService creates a new Service instance.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = DefaultIDPrefix
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		metrics: getMetrics(),
		now:     time.Now,
		imports: make(map[string]context.CancelFunc),
	}
}

// ImportRequest describes one import batch.
type ImportRequest struct {
	// ImportID lets callers cancel the import while it runs; generated when empty.
	ImportID     string
	RepositoryID int64
	Mapping      Mapping
	// Rows includes the header row.
	Rows    []RawRow
	ActorID int64
	Preview bool
	// OverwriteWithEmpty overrides the service default when set.
	OverwriteWithEmpty *bool
}

// Import runs one batch. A mapping conflict yields an error report together
// with a *MappingError; no row is touched in that case.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*BatchReport, error) {
	start := time.Now()
	importID := req.ImportID
	if importID == "" {
		importID = uuid.NewString()
	}
	if req.ActorID == 0 {
		req.ActorID = ActorFromContext(ctx)
	}
	logger := logging.WithFields(ctx,
		"import_id", importID,
		"repository_id", req.RepositoryID,
		"preview", req.Preview,
		"actor_id", req.ActorID,
	)
	if ip := GetIPAddressFromContext(ctx); ip != "" {
		logger = logger.With("ip", ip)
	}
	if ua := GetUserAgentFromContext(ctx); ua != "" {
		logger = logger.With("user_agent", ua)
	}
	if req.ActorID == 0 {
		return nil, ErrMissingActor
	}

	if err := req.Mapping.Validate(); err != nil {
		var mappingErr *MappingError
		if errors.As(err, &mappingErr) {
			logger.Warn("mapping rejected", "error", err)
			report := MappingErrorReport(mappingErr, req.Preview, s.now().UTC())
			report.ImportID = importID
			s.metrics.observeBatch(req.Preview, report, nil, time.Since(start))
			return report, err
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.track(importID, cancel); err != nil {
		logger.Warn("import id rejected", "error", err)
		return nil, err
	}
	defer s.untrack(importID)

	release, err := s.limiter.Acquire(ctx, req.RepositoryID)
	if err != nil {
		logger.Warn("import slot unavailable", "error", err)
		return nil, err
	}
	defer release()

	s.metrics.activeBatches.Inc()
	defer s.metrics.activeBatches.Dec()

	if s.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancelTimeout()
	}

	report, err := s.run(ctx, logger, req)
	if report != nil {
		report.ImportID = importID
	}
	s.metrics.observeBatch(req.Preview, report, err, time.Since(start))
	if err != nil {
		logger.Error("import failed", "error", err, "duration", time.Since(start))
		return report, err
	}
	logger.Info("import completed",
		"created", report.CreatedRows,
		"updated", report.UpdatedRows,
		"duration", time.Since(start),
	)
	return report, nil
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, req ImportRequest) (*BatchReport, error) {
	schema, err := s.store.ImportableSchema(ctx, req.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	ids, _ := RecordIDs(req.Rows, req.Mapping.IdentifierIndex(), s.cfg.IDPrefix)
	existing, err := s.store.LoadRecords(ctx, req.RepositoryID, ids)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	dupCodes, err := s.store.DuplicateCodes(ctx, req.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("load duplicate codes: %w", err)
	}
	logger.Info("import started", "rows", len(req.Rows), "matched", len(existing), "duplicate_codes", len(dupCodes))

	opts := Options{
		Preview:            req.Preview,
		OverwriteWithEmpty: s.cfg.OverwriteWithEmpty,
		LockExisting:       s.cfg.LockExisting,
		IDPrefix:           s.cfg.IDPrefix,
		DateFormat:         s.cfg.DateFormat,
		ActorID:            req.ActorID,
		Now:                s.now,
	}
	if req.OverwriteWithEmpty != nil {
		opts.OverwriteWithEmpty = *req.OverwriteWithEmpty
	}

	coord := &Coordinator{
		Users:  s.store,
		Tx:     s.store,
		Logger: logger,
	}
	return coord.Run(ctx, BatchInput{
		Schema:         schema,
		Mapping:        req.Mapping,
		Rows:           req.Rows,
		Existing:       existing,
		DuplicateCodes: dupCodes,
	}, opts)
}

// ImportableColumns returns the columns of a repository that can be import targets.
func (s *Service) ImportableColumns(ctx context.Context, repositoryID int64) ([]ColumnDefinition, error) {
	schema, err := s.store.ImportableSchema(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnDefinition, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		if c.Type.Importable() {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// CancelImport stops a running import between rows. Rows already committed stay committed.
func (s *Service) CancelImport(importID string) error {
	s.mu.Lock()
	cancel, ok := s.imports[importID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	cancel()
	return nil
}

// ActiveImports returns the ids of running imports.
func (s *Service) ActiveImports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.imports))
	for id := range s.imports {
		ids = append(ids, id)
	}
	return ids
}

// LimiterStatus reports the import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// Drain waits for running imports to finish, for graceful shutdown.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// track registers a running import. An id can only run once at a time.
func (s *Service) track(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imports[id]; ok {
		return fmt.Errorf("%w: %s", ErrImportRunning, id)
	}
	s.imports[id] = cancel
	return nil
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.imports, id)
	s.mu.Unlock()
}
