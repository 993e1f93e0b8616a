package app

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

// Backfill acquires history for several crops so later analyses hit the cache.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	crops := opts.Crops
	if len(crops) == 0 {
		crops = a.Config.Crops.Tracked
	}
	if len(crops) == 0 {
		return errors.New("没有需要回填的作物，请检查 --crop 或 crops.tracked")
	}
	if opts.Days <= 0 {
		return errors.New("回填天数必须大于 0")
	}

	var history storage.PriceHistoryStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err := a.requireStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		history = store
	}

	acq, err := a.newAcquirer(history)
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, crop := range crops {
		crop := model.NormalizeCrop(crop)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := acq.Acquire(gctx, crop, opts.Days, false)
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("crop", crop).Msg("回填失败")
				return nil
			}
			a.Logger.Info().
				Str("crop", crop).
				Str("tier", string(res.Tier)).
				Int("real_days", res.RealDays).
				Int("synthetic_days", res.SyntheticDays).
				Msg("回填完成")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().Int("crops", len(crops)).Int32("failed", failed.Load()).Msg("回填结束")
	if failed.Load() > 0 {
		return errors.New("部分作物回填失败，请检查日志")
	}
	return nil
}
