package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

const collectionModule = "DailyCollection"

// allocateRequestDay tries to deliver one weekday of one approved request:
// allocate the full day quantity (rows tagged for the date first, then
// untagged stock; rows tagged for other dates are off limits), write the
// allocation record and set the delivered flag. Runs in a savepoint so a
// conflict or shortfall leaves the outer transaction intact.
//
// Full-quantity policy: a partial allocation is rolled back entirely; the
// day stays undelivered and the rows stay available for the next run.
func allocateRequestDay(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, request *models.PurchaseRequest, day models.Weekday, date time.Time) (bool, error) {
	qty := request.DayQty(day)
	if qty <= 0 || request.DayDone(day) {
		return false, nil
	}

	exists, err := models.HasAllocationRecord(tx, request.ID, day)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	delivered := false
	shortfall := 0
	err = tx.Transaction(func(sp *gorm.DB) error {
		allocated, err := AllocateDataItems(sp, logger, request.Category, qty, request.UserId, &date)
		if err != nil {
			return err
		}
		if len(allocated) < qty {
			more, err := AllocateDataItems(sp, logger, request.Category, qty-len(allocated), request.UserId, nil)
			if err != nil {
				return err
			}
			allocated = append(allocated, more...)
		}
		if len(allocated) < qty {
			shortfall = qty - len(allocated)
			logger.WithFields(logrus.Fields{
				"request":   request.ID,
				"category":  request.Category,
				"day":       day,
				"needed":    qty,
				"available": len(allocated),
			}).Info("collect.insufficient")
			// ALLOW_PARTIAL_DELIVERIES overrides the full-quantity policy and
			// records whatever was claimed; the day still counts as delivered.
			if !config.AllowPartialDeliveries() || len(allocated) == 0 {
				return errShortfall
			}
		}

		snapshot, err := json.Marshal(allocated)
		if err != nil {
			return err
		}
		record := models.UserAllocatedData{
			UserId:            request.UserId,
			Category:          request.Category,
			PurchaseRequestId: request.ID,
			DayOfWeek:         day,
			Date:              date,
			AllocatedData:     snapshot,
			TotalAllocated:    len(allocated),
			Status:            models.AllocationStatusAllocated,
		}
		if err := sp.Create(&record).Error; err != nil {
			return err
		}
		if err := sp.Model(&models.PurchaseRequest{}).
			Where("id = ?", request.ID).
			Update(models.DoneColumn(day), true).Error; err != nil {
			return err
		}
		return models.RecordEvent(ctx, sp, models.NewEvent{
			EventType:         models.EventAllocationSucceeded,
			Category:          request.Category,
			DayOfWeek:         day,
			Date:              &date,
			Quantity:          len(allocated),
			UserId:            request.UserId,
			PurchaseRequestId: request.ID,
		})
	})

	// Insufficiency and conflict events go on the outer transaction: the
	// savepoint rollback that undoes the partial claim must not erase them.
	switch {
	case err == nil:
		delivered = true
	case errors.Is(err, errShortfall):
		err = recordShortfallEvent(ctx, tx, request, day, date, shortfall)
	case errors.Is(err, ErrAllocationConflict):
		// another collector claimed the rows first; the next run retries
		err = models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventAllocationConflict,
			Category:          request.Category,
			DayOfWeek:         day,
			Date:              &date,
			Quantity:          qty,
			UserId:            request.UserId,
			PurchaseRequestId: request.ID,
		})
	case isDuplicateKeyErr(err):
		// lost the race on the (request, day) unique index; the day is
		// already delivered by the winner
		err = nil
	}
	if err != nil {
		return false, err
	}
	if delivered && shortfall > 0 {
		if err := recordShortfallEvent(ctx, tx, request, day, date, shortfall); err != nil {
			return true, err
		}
	}

	if delivered {
		markDayDone(request, day)
		if request.AllScheduledDone() {
			if err := tx.Model(&models.PurchaseRequest{}).
				Where("id = ?", request.ID).
				Update("status", models.PurchaseRequestStatusCompleted).Error; err != nil {
				return true, err
			}
			request.Status = models.PurchaseRequestStatusCompleted
			if err := models.RecordEvent(ctx, tx, models.NewEvent{
				EventType:         models.EventRequestCompleted,
				Category:          request.Category,
				UserId:            request.UserId,
				PurchaseRequestId: request.ID,
			}); err != nil {
				return true, err
			}
		}
	}
	return delivered, nil
}

var errShortfall = errors.New("insufficient inventory for full day quantity")

func recordShortfallEvent(ctx context.Context, tx *gorm.DB, request *models.PurchaseRequest, day models.Weekday, date time.Time, missing int) error {
	return models.RecordEvent(ctx, tx, models.NewEvent{
		EventType:         models.EventAllocationInsufficient,
		Category:          request.Category,
		DayOfWeek:         day,
		Date:              &date,
		Quantity:          missing,
		UserId:            request.UserId,
		PurchaseRequestId: request.ID,
	})
}

func markDayDone(request *models.PurchaseRequest, day models.Weekday) {
	switch day {
	case models.WeekdayMonday:
		request.MondayDone = true
	case models.WeekdayTuesday:
		request.TuesdayDone = true
	case models.WeekdayWednesday:
		request.WednesdayDone = true
	case models.WeekdayThursday:
		request.ThursdayDone = true
	case models.WeekdayFriday:
		request.FridayDone = true
	}
}

type CollectResult struct {
	Date      string                     `json:"date"`
	Delivered []models.UserAllocatedData `json:"delivered"`
	Skipped   int                        `json:"skipped"`
}

// CollectDailyData delivers every due (request, weekday) of one user for the
// given date. Safe to call repeatedly: the delivered flags and the unique
// allocation record guard make re-runs no-ops.
func CollectDailyData(ctx context.Context, logger *logrus.Logger, userId string, date time.Time) (*CollectResult, error) {
	day, err := models.WeekdayFromDate(date)
	if err != nil {
		return nil, err
	}

	requests, err := models.ApprovedRequestsForUserCoveringDate(ctx, userId, date)
	if err != nil {
		return nil, err
	}

	result := &CollectResult{Date: date.Format("2006-01-02")}
	db := config.GetDB()
	for i := range requests {
		request := &requests[i]
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			delivered, err := allocateRequestDay(ctx, tx, logger, request, day, date)
			if err != nil {
				return err
			}
			if !delivered {
				result.Skipped++
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, collectionModule, "CollectDailyData", "request collection failed", request.ID, err)
			return nil, err
		}
	}

	records, err := allocationsForDate(ctx, userId, date)
	if err != nil {
		return nil, err
	}
	result.Delivered = records
	return result, nil
}

func allocationsForDate(ctx context.Context, userId string, date time.Time) ([]models.UserAllocatedData, error) {
	db := config.GetDB()
	var records []models.UserAllocatedData
	err := db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userId, date).
		Find(&records).Error
	return records, err
}

type SweepResult struct {
	Date      string `json:"date"`
	Requests  int    `json:"requests"`
	Delivered int    `json:"delivered"`
	Skipped   int    `json:"skipped"`
}

// RunDailyAllocationSweep delivers the due weekday for every approved request
// covering the date, earliest approvals first. A best-effort redislock keeps
// concurrent instances from duplicating work; correctness does not depend on
// it, only throughput.
func RunDailyAllocationSweep(ctx context.Context, logger *logrus.Logger, date time.Time) (*SweepResult, error) {
	day, err := models.WeekdayFromDate(date)
	if err != nil {
		return nil, err
	}

	locker := config.GetRedisLock()
	if locker != nil {
		lock, lerr := locker.Obtain(ctx, "sweep:"+date.Format("2006-01-02"), 5*time.Minute, nil)
		if lerr == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{"date": date.Format("2006-01-02")}).Info("sweep.skipped.locked")
			return &SweepResult{Date: date.Format("2006-01-02")}, nil
		}
		if lerr == nil {
			defer func() { _ = lock.Release(ctx) }()
		}
	}

	requests, err := models.ApprovedRequestsCoveringDate(ctx, date)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Date: date.Format("2006-01-02"), Requests: len(requests)}
	db := config.GetDB()
	for i := range requests {
		request := &requests[i]
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			delivered, err := allocateRequestDay(ctx, tx, logger, request, day, date)
			if err != nil {
				return err
			}
			if delivered {
				result.Delivered++
			} else {
				result.Skipped++
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, collectionModule, "RunDailyAllocationSweep", "request sweep failed", request.ID, err)
			// keep going; one bad request must not starve the rest
		}
	}

	logger.WithFields(logrus.Fields{
		"date":      result.Date,
		"requests":  result.Requests,
		"delivered": result.Delivered,
		"skipped":   result.Skipped,
	}).Info("sweep.done")
	return result, nil
}
