package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/featuremart/internal/derive"
	"github.com/rpattn/featuremart/internal/domain"
	"github.com/rpattn/featuremart/internal/entitygraph"
	"github.com/rpattn/featuremart/internal/metrics"
	"github.com/rpattn/featuremart/internal/normalize"
	"github.com/rpattn/featuremart/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result summarizes one pipeline run.
type Result struct {
	// Records is the number of input records accepted after normalization.
	Records int
	Sink    repository.AppendResult
}

// Service runs the whole pipeline for one message: normalize the flat
// records into entity tables, link them, derive and select features, enrich
// the target table and append everything to the warehouse. Every run is
// recorded in the ingestion job log, including failed ones.
type Service struct {
	schema  domain.PipelineSchema
	sink    repository.WarehouseSink
	jobs    repository.IngestionJobRepository
	metrics *metrics.Registry
	logger  *zap.Logger
	strict  bool
}

// NewService wires a pipeline service. jobs and reg may be nil, in which
// case runs are not audited or metered; the backfill dry run uses that.
func NewService(
	schema domain.PipelineSchema,
	sink repository.WarehouseSink,
	jobs repository.IngestionJobRepository,
	reg *metrics.Registry,
	logger *zap.Logger,
	strict bool,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		schema:  schema,
		sink:    sink,
		jobs:    jobs,
		metrics: reg,
		logger:  logger,
		strict:  strict,
	}
}

// Process runs the pipeline for one delivery and records the outcome. The
// returned error carries the failure class via domain.Classify.
func (s *Service) Process(ctx context.Context, messageID, source string, records []domain.RawRecord) (Result, error) {
	start := time.Now()

	appended, err := s.run(ctx, messageID, records)
	result := Result{Records: len(records), Sink: appended}
	s.observe(ctx, messageID, source, result, err, time.Since(start))
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Reject records a poison delivery that never reached the pipeline, such as
// an undecodable push body. The caller still acknowledges the message.
func (s *Service) Reject(ctx context.Context, messageID, source string, cause error) {
	s.logger.Warn("message rejected before pipeline",
		zap.String("message_id", messageID),
		zap.String("source", source),
		zap.Error(cause))

	if s.metrics != nil {
		s.metrics.MessagesTotal.Inc()
		s.metrics.FailuresTotal.WithLabelValues(string(domain.FailurePoison)).Inc()
	}
	s.record(ctx, domain.IngestionJob{
		MessageID:    messageID,
		Source:       source,
		Status:       domain.JobStatusRejected,
		FailureClass: domain.FailurePoison,
		ErrorMessage: cause.Error(),
	})
}

func (s *Service) run(ctx context.Context, messageID string, records []domain.RawRecord) (repository.AppendResult, error) {
	tables, err := normalize.New(s.schema).Tables(records)
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to normalize records: %w", err)
	}

	graph, err := entitygraph.Build(s.schema, tables, s.strict)
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to build entity graph: %w", err)
	}

	matrix, err := derive.NewEngine(s.schema).Derive(graph)
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to derive features: %w", err)
	}

	selected, err := derive.NewSelector(s.schema).Select(matrix)
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to select features: %w", err)
	}

	target, ok := graph.Table(s.schema.Target)
	if !ok {
		return repository.AppendResult{}, fmt.Errorf("schema target %s has no table", s.schema.Target)
	}
	enriched, err := derive.Merge(target, selected)
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to merge features: %w", err)
	}

	// The enriched table replaces the plain target table in the append.
	ordered := make([]domain.Table, 0, len(s.schema.Entities))
	for _, entity := range s.schema.Entities {
		table := tables[entity.Name]
		if entity.Name == s.schema.Target {
			table = enriched
		}
		ordered = append(ordered, table)
	}

	appended, err := s.sink.Append(ctx, repository.AppendRequest{
		MessageID: messageID,
		Tables:    ordered,
	})
	if err != nil {
		return repository.AppendResult{}, fmt.Errorf("failed to append to warehouse: %w", err)
	}
	return appended, nil
}

func (s *Service) observe(ctx context.Context, messageID, source string, result Result, err error, took time.Duration) {
	job := domain.IngestionJob{
		MessageID:    messageID,
		Source:       source,
		Status:       domain.JobStatusSucceeded,
		Records:      result.Records,
		RowsAppended: result.Sink.TotalRows(),
		Duration:     took,
	}

	if s.metrics != nil {
		s.metrics.MessagesTotal.Inc()
		s.metrics.ProcessDuration.Observe(took.Seconds())
	}

	if err != nil {
		class := domain.Classify(err)
		job.FailureClass = class
		job.ErrorMessage = err.Error()
		if class == domain.FailurePoison {
			job.Status = domain.JobStatusRejected
		} else {
			job.Status = domain.JobStatusRetrying
		}

		if s.metrics != nil {
			s.metrics.FailuresTotal.WithLabelValues(string(class)).Inc()
		}
		s.logger.Error("pipeline run failed",
			zap.String("message_id", messageID),
			zap.String("source", source),
			zap.String("class", string(class)),
			zap.Duration("duration", took),
			zap.Error(err))
	} else {
		if s.metrics != nil {
			for table, rows := range result.Sink.RowsWritten {
				s.metrics.RowsAppended.WithLabelValues(table).Add(float64(rows))
			}
			for range result.Sink.Skipped {
				s.metrics.TablesSkipped.Inc()
			}
		}
		s.logger.Info("message processed",
			zap.String("message_id", messageID),
			zap.String("source", source),
			zap.Int("records", result.Records),
			zap.Int64("rows_appended", result.Sink.TotalRows()),
			zap.Strings("skipped", result.Sink.Skipped),
			zap.Duration("duration", took))
	}

	s.record(ctx, job)
}

func (s *Service) record(ctx context.Context, job domain.IngestionJob) {
	if s.jobs == nil {
		return
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	// An audit write failure must not change the delivery outcome.
	if err := s.jobs.Record(ctx, job); err != nil {
		s.logger.Warn("failed to record ingestion job",
			zap.String("message_id", job.MessageID),
			zap.Error(err))
	}
}
