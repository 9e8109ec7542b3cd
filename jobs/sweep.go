package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"code.cloudfoundry.org/clock"
	"gorm.io/gorm"

	"marketplace/auction"
	"marketplace/models"
)

// ExpiryJob 結束已到期的拍賣
type ExpiryJob struct {
	lifecycle *auction.Lifecycle
	logger    *slog.Logger
}

func NewExpiryJob(lifecycle *auction.Lifecycle, logger *slog.Logger) *ExpiryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryJob{
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("caller", "ExpiryJob")),
	}
}

func (j *ExpiryJob) Name() string { return "auction-expiry" }

func (j *ExpiryJob) Run(ctx context.Context) error {
	ended, err := j.lifecycle.EndExpired(ctx)
	if ended > 0 {
		j.logger.Info("expired auctions ended", slog.Int("count", ended))
	}
	return err
}

// LockSweepJob 釋放已過期而未付款的得標保留
type LockSweepJob struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *slog.Logger
}

func NewLockSweepJob(db *gorm.DB, clk clock.Clock, logger *slog.Logger) *LockSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockSweepJob{
		db:     db,
		clock:  clk,
		logger: logger.With(slog.String("caller", "LockSweepJob")),
	}
}

func (j *LockSweepJob) Name() string { return "auction-lock-sweep" }

func (j *LockSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep 將過期的 active 保留轉為 released，回傳釋放的數量
func (j *LockSweepJob) Sweep(ctx context.Context) (int64, error) {
	const op = "LockSweepJob.Sweep"

	res := j.db.WithContext(ctx).Model(&models.AuctionLock{}).
		Where("status = ? AND expires_at <= ?", models.AuctionLockStatusActive, j.clock.Now()).
		Update("status", models.AuctionLockStatusReleased)
	if res.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to release expired locks, err=%w", op, res.Error)
	}
	if res.RowsAffected > 0 {
		j.logger.Info("expired auction locks released", slog.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
