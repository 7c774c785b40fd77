package workflow

import (
	"context"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const schedulerModule = "Scheduler"

// StartScheduler runs the weekday-morning allocation sweep. The cron trigger
// is an optimization only: due work is re-derived from the DB every run, so a
// missed tick is picked up by the next run or by on-demand collection.
func StartScheduler(ctx context.Context, logger *logrus.Logger) *cron.Cron {
	spec := os.Getenv("SWEEP_CRON")
	if spec == "" {
		spec = "0 9 * * 1-5"
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		date, err := utils.ConvertToDate(time.Now(), os.Getenv("TIMEZONE"))
		if err != nil {
			config.LogError(logger, schedulerModule, "StartScheduler", "resolve sweep date", nil, err)
			return
		}
		// store dates as UTC midnight, matching submitted request dates
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		if _, err := RunDailyAllocationSweep(ctx, logger, date); err != nil {
			config.LogError(logger, schedulerModule, "StartScheduler", "daily allocation sweep", date.Format("2006-01-02"), err)
		}
	})
	if err != nil {
		config.LogError(logger, schedulerModule, "StartScheduler", "register cron entry", spec, err)
		return c
	}

	c.Start()
	logger.WithFields(logrus.Fields{"spec": spec}).Info("scheduler.started")
	return c
}
