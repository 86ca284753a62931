package fetcher

import (
	"context"
	"time"

	"github.com/karpovdv/folio/internal/platform/backfill"
)

// TransactionEvent is the payload of a transaction_created
// notification
type TransactionEvent struct {
	TransactionID int64     `json:"transaction_id"`
	AssetID       int64     `json:"asset_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// HandleTransactionCreated reacts to a new transaction: it claims the
// notification so redeliveries become no-ops, grows the holder count,
// and enqueues a historical backfill when the asset just entered the
// refresh set or its trade window has no stored coverage yet.
func (s *Service) HandleTransactionCreated(ctx context.Context, evt TransactionEvent) error {
	fresh, err := s.events.MarkProcessed(ctx, evt.TransactionID)
	if err != nil {
		s.recorder.Error(ctx, "failed to claim transaction event", map[string]interface{}{
			"transaction_id": evt.TransactionID,
			"reason":         err.Error(),
		})
		return err
	}
	if !fresh {
		s.recorder.Debug(ctx, "duplicate transaction event ignored", map[string]interface{}{
			"transaction_id": evt.TransactionID,
		})
		return nil
	}

	holders, err := s.assets.Track(ctx, evt.AssetID)
	if err != nil {
		s.recorder.Error(ctx, "failed to track asset from transaction event", map[string]interface{}{
			"transaction_id": evt.TransactionID,
			"asset_id":       evt.AssetID,
			"reason":         err.Error(),
		})
		return err
	}

	start, end := backfill.PlanWindow(evt.Timestamp, time.Now())

	needBackfill := holders == 1
	if !needBackfill {
		covered, cerr := s.assets.HasCoverage(ctx, evt.AssetID, start, end)
		if cerr != nil {
			// enqueueing is idempotent, so prefer a redundant job
			// over a hole in the history
			s.log.WithContext(ctx).WithError(cerr).Warn("coverage check failed, enqueueing backfill anyway",
				"asset_id", evt.AssetID)
			covered = false
		}
		needBackfill = !covered
	}

	if needBackfill {
		if _, err := s.backfills.Enqueue(ctx, evt.AssetID, start, end); err != nil {
			s.recorder.Error(ctx, "failed to enqueue backfill from transaction event", map[string]interface{}{
				"transaction_id": evt.TransactionID,
				"asset_id":       evt.AssetID,
				"reason":         err.Error(),
			})
			return err
		}
	}

	s.recorder.Info(ctx, "transaction event processed", map[string]interface{}{
		"transaction_id": evt.TransactionID,
		"asset_id":       evt.AssetID,
		"holders":        holders,
		"backfill":       needBackfill,
	})
	return nil
}
