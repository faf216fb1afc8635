package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"autorepay/integrations/exports"
	"autorepay/native/autorepay"
	nativecommon "autorepay/native/common"
	"autorepay/observability"
)

// Config wires the keeper loop.
type Config struct {
	Manager  *autorepay.Manager
	Sweeper  *autorepay.SweepScheduler
	Interval time.Duration
	// ExportDir enables the periodic positions export when set.
	ExportDir      string
	ExportInterval time.Duration
	Metrics        *observability.EngineMetrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Keeper periodically runs due sweeps, retries pending fee delivery and
// exports position snapshots. Failures are logged and retried next tick.
type Keeper struct {
	manager        *autorepay.Manager
	sweeper        *autorepay.SweepScheduler
	interval       time.Duration
	exportDir      string
	exportInterval time.Duration
	metrics        *observability.EngineMetrics
	logger         *slog.Logger
	now            func() time.Time

	lastExport time.Time
}

// Report summarises one tick.
type Report struct {
	Sweep     *autorepay.SweepResult
	Delivered *big.Int
	Export    *exports.Manifest
	Err       error
}

func New(cfg Config) (*Keeper, error) {
	if cfg.Manager == nil || cfg.Sweeper == nil {
		return nil, errors.New("keeper: manager and sweeper required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Keeper{
		manager:        cfg.Manager,
		sweeper:        cfg.Sweeper,
		interval:       cfg.Interval,
		exportDir:      cfg.ExportDir,
		exportInterval: cfg.ExportInterval,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With(slog.String("component", "keeper")),
		now:            cfg.Now,
	}, nil
}

// Start runs the loop until the context is cancelled.
func (k *Keeper) Start(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick performs one keeper pass.
func (k *Keeper) Tick(ctx context.Context) Report {
	var report Report
	var errs []error

	sweep, err := k.sweep(ctx)
	report.Sweep = sweep
	if err != nil {
		errs = append(errs, err)
	}

	delivered, err := k.manager.FlushFees(ctx)
	report.Delivered = delivered
	if err != nil {
		k.logger.Warn("fee delivery failed", slog.Any("error", err))
		errs = append(errs, err)
	}
	if fees, err := k.manager.FeeTotals(); err == nil {
		k.metrics.SetPendingFees(fees.Pending)
	}

	if k.exportDue() {
		manifest, err := k.export()
		report.Export = manifest
		if err != nil {
			k.logger.Error("positions export failed", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	report.Err = errors.Join(errs...)
	return report
}

func (k *Keeper) sweep(ctx context.Context) (*autorepay.SweepResult, error) {
	due, err := k.sweeper.IsDue()
	if err != nil {
		k.logger.Error("sweep due check failed", slog.Any("error", err))
		return nil, err
	}
	if !due {
		return nil, nil
	}
	start := time.Now()
	res, err := k.sweeper.RunSweep(ctx)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, nativecommon.ErrActionPaused):
		k.metrics.ObserveSweep("skipped", elapsed)
		return nil, nil
	case err != nil:
		k.metrics.ObserveSweep("error", elapsed)
		k.logger.Error("sweep failed", slog.Any("error", err))
		return nil, err
	case !res.Ran:
		k.metrics.ObserveSweep("skipped", elapsed)
	default:
		k.metrics.ObserveSweep("committed", elapsed)
		k.logger.Info("sweep committed",
			slog.String("runId", res.RunID),
			slog.Int("accounts", res.Accounts),
			slog.Int("repaid", res.Repaid),
			slog.String("totalApplied", res.TotalApplied.String()))
	}
	return res, nil
}

func (k *Keeper) exportDue() bool {
	if k.exportDir == "" {
		return false
	}
	return k.lastExport.IsZero() || k.now().Sub(k.lastExport) >= k.exportInterval
}

func (k *Keeper) export() (*exports.Manifest, error) {
	snapshot, err := k.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	manifest, err := exports.WriteSnapshot(k.exportDir, snapshot)
	if err != nil {
		return nil, err
	}
	k.lastExport = k.now()
	k.logger.Info("positions exported",
		slog.Int("positions", manifest.Positions),
		slog.String("csv", manifest.CSVPath),
		slog.String("checksum", manifest.CSVChecksum))
	return manifest, nil
}
