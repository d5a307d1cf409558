package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/enrich"
	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/repo"
)

type OwnerService struct {
	owners    *repo.OwnerRepo
	sources   *repo.SourceRepo
	files     filestore.Store
	scheduler *enrich.Scheduler
}

func NewOwnerService(owners *repo.OwnerRepo, sources *repo.SourceRepo, files filestore.Store, scheduler *enrich.Scheduler) *OwnerService {
	return &OwnerService{owners: owners, sources: sources, files: files, scheduler: scheduler}
}

// DeleteOwnerData stops the owner's enrichment, removes every row the
// owner has and then the archived originals.
func (s *OwnerService) DeleteOwnerData(ctx context.Context, ownerID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", ownerID))
	if s.scheduler != nil {
		s.scheduler.Forget(ownerID)
	}
	sources, err := s.sources.ListByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if err := s.owners.DeleteAll(ctx, ownerID); err != nil {
		logger.Error("delete owner data failed", zap.Error(err))
		return err
	}
	if s.files != nil {
		for _, src := range sources {
			if src.ArchiveKey == "" {
				continue
			}
			if err := s.files.Delete(ctx, src.ArchiveKey); err != nil {
				logger.Warn("delete archived original failed", zap.String("source_id", src.ID), zap.Error(err))
			}
		}
	}
	logger.Info("owner data deleted", zap.Int("sources", len(sources)))
	return nil
}
