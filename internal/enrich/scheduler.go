package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/event"
	"github.com/xxxsen/recall/internal/model"
)

const DefaultSystemPrompt = `You triage incoming messages for the user.
Reply with one JSON object and nothing else:
{"category": string, "priority": "low"|"normal"|"high"|"urgent", "summary": string,
"sentiment": "positive"|"neutral"|"negative", "actionItems": [string], "isRelevant": boolean}`

type CandidateStore interface {
	ListPending(ctx context.Context, ownerID string, ids []string) ([]*model.CandidateRecord, error)
	MarkAnalyzing(ctx context.Context, ownerID, id string) error
	MarkAnalyzed(ctx context.Context, ownerID, id string, analysis *model.AnalysisResult, now int64) error
	MarkFailed(ctx context.Context, ownerID, id, reason string) error
}

type Analyzer interface {
	Analyze(ctx context.Context, system string, user string) (ai.ParseResult, error)
}

type Options struct {
	SystemPrompt  string
	RatePerMinute int
}

// Scheduler analyzes candidates one at a time per owner and reports
// progress to a sink. Background passes are tracked per owner so that
// at most one runs for an owner at any time.
type Scheduler struct {
	store    CandidateStore
	analyzer Analyzer
	sink     event.Sink
	system   string
	limiter  *rate.Limiter
	tracer   trace.Tracer
	now      func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	mu         sync.Mutex
	running    map[string]*Task
	last       map[string]*Task
	wg         sync.WaitGroup
}

func NewScheduler(store CandidateStore, analyzer Analyzer, sink event.Sink, opts Options) *Scheduler {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	if sink == nil {
		sink = event.Multi{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		analyzer:   analyzer,
		sink:       sink,
		system:     opts.SystemPrompt,
		limiter:    limiter,
		tracer:     otel.Tracer("github.com/xxxsen/recall/internal/enrich"),
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		running:    make(map[string]*Task),
		last:       make(map[string]*Task),
	}
}

// Run performs one pass over the candidates among ids that are not yet
// analyzed, most similar first. A failing item is marked failed and the
// pass continues. Only a failure to fetch the candidates is returned.
func (s *Scheduler) Run(ctx context.Context, ownerID string, ids []string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "enrich.pass", trace.WithAttributes(
		attribute.String("owner_id", ownerID),
		attribute.Int("requested", len(ids)),
	))
	defer span.End()
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", ownerID))

	items, err := s.store.ListPending(ctx, ownerID, ids)
	if err != nil {
		logger.Error("fetch candidates for enrichment failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.sink.Publish(ownerID, EventBatchFailed, BatchFailed{Reason: err.Error()})
		return 0, fmt.Errorf("list pending candidates: %w", err)
	}
	total := len(items)
	logger.Info("enrichment pass started", zap.Int("total", total))
	analyzed := 0
	for i, c := range items {
		if ctx.Err() != nil {
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}
		s.sink.Publish(ownerID, EventItemStarted, ItemStarted{ID: c.ID, Subject: c.Subject, Index: i + 1, Total: total})
		res, err := s.analyzeOne(ctx, c)
		if err != nil {
			logger.Error("enrich candidate failed", zap.String("candidate_id", c.ID), zap.Error(err))
			if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), ownerID, c.ID, err.Error()); markErr != nil {
				logger.Error("mark candidate failed", zap.String("candidate_id", c.ID), zap.Error(markErr))
			}
			continue
		}
		analyzed++
		s.sink.Publish(ownerID, EventItemDone, ItemDone{ID: c.ID, Analysis: res, Index: i + 1, Total: total})
	}
	s.sink.Publish(ownerID, EventBatchDone, BatchDone{AnalyzedCount: analyzed, Total: total})
	span.SetAttributes(attribute.Int("analyzed", analyzed), attribute.Int("total", total))
	logger.Info("enrichment pass finished", zap.Int("analyzed", analyzed), zap.Int("total", total))
	return analyzed, nil
}

func (s *Scheduler) analyzeOne(ctx context.Context, c *model.CandidateRecord) (*model.AnalysisResult, error) {
	ctx, span := s.tracer.Start(ctx, "enrich.item", trace.WithAttributes(attribute.String("candidate_id", c.ID)))
	defer span.End()
	if err := s.store.MarkAnalyzing(ctx, c.OwnerID, c.ID); err != nil {
		return nil, fmt.Errorf("mark analyzing: %w", err)
	}
	parsed, err := s.analyzer.Analyze(ctx, s.system, userPrompt(c))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyze failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("fallback", parsed.Kind == ai.ParseFallback))
	res := parsed.Result()
	if err := s.store.MarkAnalyzed(ctx, c.OwnerID, c.ID, res, s.now().Unix()); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	return res, nil
}

func userPrompt(c *model.CandidateRecord) string {
	return "Subject: " + c.Subject + "\n\n" + c.Body
}
