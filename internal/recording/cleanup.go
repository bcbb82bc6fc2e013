package recording

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// recordings answered before the configured retention window. Recordings
// flagged keep_forever survive, as do those without an answered timestamp.
// File-stored audio is removed from disk alongside the rows. A retention of
// 0 or unset disables the sweep. The goroutine stops when the context is
// cancelled.
func StartCleanupTicker(ctx context.Context, recordings database.RecordingRepository, sysConfig database.SystemConfigRepository, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				keepDays, err := sysConfig.GetInt(ctx, database.ConfKeyRecordingsKeepDays, 0)
				if err != nil {
					slog.Error("recording retention: failed to read setting", "error", err)
					continue
				}
				if keepDays <= 0 {
					continue
				}

				paths, err := recordings.DeleteExpired(ctx, keepDays)
				if err != nil {
					slog.Error("recording retention cleanup failed", "error", err)
					continue
				}
				if len(paths) == 0 {
					continue
				}

				slog.Info("recording retention cleanup", "deleted", len(paths), "keep_days", keepDays)

				for _, p := range paths {
					if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
						slog.Warn("failed to remove recording file", "path", p, "error", err)
					}
				}
			}
		}
	}()
}
