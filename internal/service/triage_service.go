package service

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/enrich"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/prefilter"
	"github.com/xxxsen/recall/internal/repo"
)

const DefaultReferenceText = "A message that needs the recipient's attention: a request, a question, " +
	"a deadline, an invoice, a meeting, or a decision to make."

type TriageService struct {
	candidates *repo.CandidateRepo
	cursors    *repo.SyncCursorRepo
	classifier *prefilter.Classifier
	scheduler  *enrich.Scheduler
	reference  string
	now        func() time.Time
}

func NewTriageService(candidates *repo.CandidateRepo, cursors *repo.SyncCursorRepo, classifier *prefilter.Classifier, scheduler *enrich.Scheduler, reference string) *TriageService {
	if strings.TrimSpace(reference) == "" {
		reference = DefaultReferenceText
	}
	return &TriageService{
		candidates: candidates,
		cursors:    cursors,
		classifier: classifier,
		scheduler:  scheduler,
		reference:  reference,
		now:        time.Now,
	}
}

type SyncResult struct {
	Preliminary []*model.CandidateRecord `json:"preliminary"`
	Likely      int                      `json:"likely"`
	Unlikely    int                      `json:"unlikely"`
	New         int                      `json:"new"`
	Skipped     int                      `json:"skipped"`
	Degraded    bool                     `json:"degraded"`
	TaskID      string                   `json:"task_id,omitempty"`
	Queued      bool                     `json:"queued"`
}

type TriageStatus struct {
	Counts     map[string]int     `json:"counts"`
	LastSyncAt int64              `json:"last_sync_at"`
	Task       *enrich.TaskStatus `json:"task,omitempty"`
}

// SyncAndEnrich pre-filters the candidates, stores them and starts a
// background enrichment pass over the likely ones. It returns as soon as
// the candidates are stored; store failures of single candidates are
// logged and the candidate is left out of the preliminary list.
func (s *TriageService) SyncAndEnrich(ctx context.Context, ownerID string, raws []model.RawCandidate) (*SyncResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", ownerID))
	res := &SyncResult{Preliminary: []*model.CandidateRecord{}}

	batch := make([]model.RawCandidate, 0, len(raws))
	index := make(map[string]int, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw.ExternalID) == "" {
			res.Skipped++
			continue
		}
		if i, ok := index[raw.ExternalID]; ok {
			batch[i] = raw
			res.Skipped++
			continue
		}
		index[raw.ExternalID] = len(batch)
		batch = append(batch, raw)
	}
	if len(batch) == 0 {
		return res, nil
	}

	lastSync, err := s.cursors.Get(ctx, ownerID)
	if err != nil {
		logger.Warn("read sync cursor failed, treating all as new", zap.Error(err))
		lastSync = 0
	}

	items := make([]prefilter.Item, 0, len(batch))
	for _, raw := range batch {
		items = append(items, prefilter.Item{Key: raw.ExternalID, Text: candidateText(raw)})
	}
	classified := s.classifier.Classify(ctx, items, s.reference)
	res.Degraded = classified.Degraded

	now := s.now().Unix()
	newest := lastSync
	likelyIDs := make([]string, 0, len(classified.Likely))
	store := func(scored prefilter.Scored, likely bool) {
		raw := batch[index[scored.Item.Key]]
		receivedAt := raw.Timestamp
		if receivedAt <= 0 {
			receivedAt = now
		}
		if receivedAt > newest {
			newest = receivedAt
		}
		rec := &model.CandidateRecord{
			ID:              newID(),
			OwnerID:         ownerID,
			ExternalID:      raw.ExternalID,
			Subject:         raw.Subject,
			Body:            raw.Body,
			Embedding:       scored.Embedding,
			SimilarityScore: scored.Score,
			Likely:          likely,
			ReceivedAt:      receivedAt,
			LastSeenAt:      now,
		}
		id, created, err := s.candidates.Upsert(ctx, rec)
		if err != nil {
			logger.Error("store candidate failed", zap.String("external_id", raw.ExternalID), zap.Error(err))
			return
		}
		if receivedAt > lastSync {
			res.New++
		}
		stored, err := s.candidates.Get(ctx, ownerID, id)
		if err != nil {
			logger.Error("reload candidate failed", zap.String("candidate_id", id), zap.Error(err))
			return
		}
		if likely && !stored.Analyzed() {
			likelyIDs = append(likelyIDs, id)
		}
		logger.Debug("candidate stored", zap.String("candidate_id", id), zap.Bool("created", created), zap.Bool("likely", likely))
		res.Preliminary = append(res.Preliminary, stored)
	}
	for _, scored := range classified.Likely {
		store(scored, true)
	}
	for _, scored := range classified.Unlikely {
		store(scored, false)
	}
	res.Likely = len(classified.Likely)
	res.Unlikely = len(classified.Unlikely)

	if err := s.cursors.Advance(ctx, ownerID, newest); err != nil {
		logger.Warn("advance sync cursor failed", zap.Error(err))
	}
	if len(likelyIDs) > 0 && s.scheduler != nil {
		task, started := s.scheduler.Start(ownerID, likelyIDs)
		res.TaskID = task.ID
		res.Queued = !started
	}
	logger.Info("sync finished",
		zap.Int("stored", len(res.Preliminary)),
		zap.Int("likely", res.Likely),
		zap.Int("new", res.New),
		zap.Bool("degraded", res.Degraded),
	)
	return res, nil
}

func candidateText(raw model.RawCandidate) string {
	return strings.TrimSpace(raw.Subject + "\n\n" + raw.Body)
}

func (s *TriageService) ListCandidates(ctx context.Context, ownerID, status string, offset, limit int) ([]*model.CandidateRecord, error) {
	switch status {
	case "", model.CandidateStatusPending, model.CandidateStatusAnalyzing, model.CandidateStatusAnalyzed, model.CandidateStatusFailed:
	default:
		return nil, appErr.Invalidf("unknown status %q", status)
	}
	list, err := s.candidates.List(ctx, ownerID, status, offset, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.CandidateRecord{}
	}
	return list, nil
}

func (s *TriageService) GetCandidate(ctx context.Context, ownerID, id string) (*model.CandidateRecord, error) {
	return s.candidates.Get(ctx, ownerID, id)
}

func (s *TriageService) Status(ctx context.Context, ownerID string) (*TriageStatus, error) {
	counts, err := s.candidates.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.cursors.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	st := &TriageStatus{Counts: counts, LastSyncAt: lastSync}
	if s.scheduler != nil {
		if task, ok := s.scheduler.Task(ownerID); ok {
			ts := task.Status()
			st.Task = &ts
		}
	}
	return st, nil
}

func (s *TriageService) Cancel(ownerID string) bool {
	if s.scheduler == nil {
		return false
	}
	return s.scheduler.Cancel(ownerID)
}

// RetryPending restarts enrichment for likely candidates left pending or
// failed by earlier passes. It returns how many owners got a pass.
func (s *TriageService) RetryPending(ctx context.Context, limit int) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	byOwner, err := s.candidates.ListRetryable(ctx, limit)
	if err != nil {
		return 0, err
	}
	for ownerID, ids := range byOwner {
		s.scheduler.Start(ownerID, ids)
	}
	return len(byOwner), nil
}
