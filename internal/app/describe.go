package app

import (
	"context"
	"fmt"
	"time"

	"kpibot/internal/config"
	"kpibot/internal/report/scheduler"
	"kpibot/internal/storage"
	logx "kpibot/pkg/logx"
)

// DescribeSchedule loads the config and persisted schedule state and
// projects the upcoming trigger times. It builds none of the pipeline, so it
// works without a reachable Telegram API or an installed browser; only the
// schedule section has to be valid.
func DescribeSchedule(ctx context.Context, cfgPath string) (scheduler.Snapshot, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return scheduler.Snapshot{}, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return scheduler.Snapshot{}, err
	}

	var st storage.State
	if sc, persist, err := mapStorageConfig(cfg); err == nil && persist {
		if store, err := storage.Open(sc, logx.Nop()); err == nil && store != nil {
			if got, ok, err := store.LoadState(ctx); err == nil && ok {
				st = got
			}
			_ = store.Close()
		}
	}

	return scheduler.Describe(schedCfg, st, time.Now())
}
