package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
)

// RegisterMaintenance wires the housekeeping job: badger value-log GC,
// stale clearance purge and render record pruning, all on one schedule.
func RegisterMaintenance(s *Service, storage interfaces.StorageManager, config *common.MaintenanceConfig, logger arbor.ILogger) error {
	if !config.Enabled {
		logger.Info().Msg("Maintenance job disabled")
		return nil
	}

	return s.RegisterJob("maintenance", config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := storage.RunValueLogGC(); err != nil {
			logger.Warn().Err(err).Msg("Badger value-log GC failed")
		}

		if config.ClearanceTTL > 0 {
			cutoff := time.Now().Add(-config.ClearanceTTL)
			if purged, err := storage.ClearanceStorage().PurgeIdle(ctx, cutoff); err != nil {
				logger.Warn().Err(err).Msg("Clearance purge failed")
			} else if purged > 0 {
				logger.Info().Int("purged", purged).Msg("Stale clearances purged")
			}
		}

		if config.RecordRetention > 0 {
			cutoff := time.Now().Add(-config.RecordRetention)
			if pruned, err := storage.RenderStorage().PruneBefore(ctx, cutoff); err != nil {
				logger.Warn().Err(err).Msg("Render record pruning failed")
			} else if pruned > 0 {
				logger.Info().Int("pruned", pruned).Msg("Old render records pruned")
			}
		}
	})
}
