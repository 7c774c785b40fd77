package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const ledgerModule = "RequirementLedger"

// mondayOf returns the Monday of the week containing date.
func mondayOf(date time.Time) time.Time {
	offset := (int(date.Weekday()) + 6) % 7
	return date.AddDate(0, 0, -offset)
}

// AddContribution upserts the (category, day, date) slot and appends the
// request's share. Skips silently when a contribution for this request
// already exists on the slot, so re-approving a request cannot double-count.
func AddContribution(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, category string, day models.Weekday, date time.Time, request *models.PurchaseRequest, qty int) error {
	if qty <= 0 {
		return nil
	}

	slot, err := models.FetchRequirementSlot(tx, category, day, date)
	if err != nil {
		return err
	}

	if slot == nil {
		slot = &models.DailyRequirement{
			Category:  category,
			DayOfWeek: day,
			Date:      date,
			Quantity:  qty,
			CreatedBy: request.UserId,
			Contributions: []models.RequirementContribution{{
				PurchaseRequestId: request.ID,
				UserId:            request.UserId,
				Quantity:          qty,
			}},
		}
		if err := tx.Create(slot).Error; err != nil {
			return err
		}
		if err := models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventLedgerEntryCreated,
			Category:          category,
			DayOfWeek:         day,
			Date:              &date,
			Quantity:          qty,
			UserId:            request.UserId,
			PurchaseRequestId: request.ID,
		}); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"category": category,
			"day":      day,
			"date":     date.Format("2006-01-02"),
			"qty":      qty,
			"request":  request.ID,
		}).Info("ledger.slot.create")
		return nil
	}

	for _, c := range slot.Contributions {
		if c.PurchaseRequestId == request.ID {
			// double-approval guard
			return nil
		}
	}

	contribution := models.RequirementContribution{
		DailyRequirementId: slot.ID,
		PurchaseRequestId:  request.ID,
		UserId:             request.UserId,
		Quantity:           qty,
	}
	if err := tx.Create(&contribution).Error; err != nil {
		return err
	}
	return tx.Model(&models.DailyRequirement{}).
		Where("id = ?", slot.ID).
		Update("quantity", gorm.Expr("quantity + ?", qty)).Error
}

// RemoveContribution reverses AddContribution by the recorded quantity and
// garbage-collects the slot when nothing keeps it alive: no contributions,
// zero quantity and no inventory rows tagged to the slot's date.
func RemoveContribution(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, category string, day models.Weekday, date time.Time, requestId int) error {
	slot, err := models.FetchRequirementSlot(tx, category, day, date)
	if err != nil {
		return err
	}
	if slot == nil {
		return nil
	}

	var recorded *models.RequirementContribution
	remaining := 0
	for i := range slot.Contributions {
		if slot.Contributions[i].PurchaseRequestId == requestId {
			recorded = &slot.Contributions[i]
		} else {
			remaining++
		}
	}
	if recorded == nil {
		return nil
	}

	newQty := slot.Quantity - recorded.Quantity
	if newQty < 0 {
		config.LogError(logger, ledgerModule, "RemoveContribution", "ledger drift: quantity below contribution sum", map[string]interface{}{
			"slot_id":      slot.ID,
			"slot_qty":     slot.Quantity,
			"contribution": recorded.Quantity,
		}, errors.New("negative slot quantity clamped to zero"))
		newQty = 0
	}

	if err := tx.Delete(&models.RequirementContribution{}, recorded.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.DailyRequirement{}).
		Where("id = ?", slot.ID).
		Update("quantity", newQty).Error; err != nil {
		return err
	}

	if remaining == 0 && newQty == 0 {
		tagged, err := models.CountDataItemsForSlot(tx, category, date)
		if err != nil {
			return err
		}
		if tagged == 0 {
			if err := tx.Delete(&models.DailyRequirement{}, slot.ID).Error; err != nil {
				return err
			}
			if err := models.RecordEvent(ctx, tx, models.NewEvent{
				EventType:         models.EventLedgerEntryDeleted,
				Category:          category,
				DayOfWeek:         day,
				Date:              &date,
				PurchaseRequestId: requestId,
			}); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"category": category,
				"day":      day,
				"date":     date.Format("2006-01-02"),
				"request":  requestId,
			}).Info("ledger.slot.gc")
		}
	}
	return nil
}

type slotKey struct {
	Category string
	Day      models.Weekday
	Date     string
}

// RebuildDailyRequirements recomputes every slot in [start, end] from the
// approved requests that overlap the range, overwriting stored quantities and
// contributions. Drift between stored and computed state is logged before
// being corrected. Serialized via a MySQL advisory lock.
func RebuildDailyRequirements(ctx context.Context, db *gorm.DB, logger *logrus.Logger, start, end time.Time) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLedgerLock(tx, "rebuild"); err != nil {
			return err
		}
		defer ReleaseLedgerLock(tx, "rebuild")

		var requests []models.PurchaseRequest
		if err := tx.
			Where("status IN ? AND start_date <= ? AND end_date >= ?",
				[]models.PurchaseRequestStatus{models.PurchaseRequestStatusApproved, models.PurchaseRequestStatusCompleted},
				end, start).
			Find(&requests).Error; err != nil {
			return err
		}

		computed := map[slotKey]*models.DailyRequirement{}
		for i := range requests {
			request := &requests[i]
			for _, day := range models.BusinessDays {
				qty := request.DayQty(day)
				if qty <= 0 {
					continue
				}
				date := models.DateForWeekday(request.StartDate, day)
				if date.Before(start) || date.After(end) {
					continue
				}
				key := slotKey{Category: request.Category, Day: day, Date: date.Format("2006-01-02")}
				slot := computed[key]
				if slot == nil {
					slot = &models.DailyRequirement{
						Category:  request.Category,
						DayOfWeek: day,
						Date:      date,
						CreatedBy: "rebuild",
					}
					computed[key] = slot
				}
				slot.Quantity += qty
				slot.Contributions = append(slot.Contributions, models.RequirementContribution{
					PurchaseRequestId: request.ID,
					UserId:            request.UserId,
					Quantity:          qty,
				})
			}
		}

		var existing []models.DailyRequirement
		if err := tx.Preload("Contributions").
			Where("date >= ? AND date <= ?", start, end).
			Find(&existing).Error; err != nil {
			return err
		}

		for i := range existing {
			stored := &existing[i]
			key := slotKey{Category: stored.Category, Day: stored.DayOfWeek, Date: stored.Date.Format("2006-01-02")}
			want := computed[key]
			wantQty := 0
			if want != nil {
				wantQty = want.Quantity
			}
			if stored.Quantity != wantQty || (want == nil && len(stored.Contributions) > 0) ||
				(want != nil && len(stored.Contributions) != len(want.Contributions)) {
				config.LogError(logger, ledgerModule, "RebuildDailyRequirements", "ledger drift detected", map[string]interface{}{
					"category":   stored.Category,
					"date":       key.Date,
					"stored_qty": stored.Quantity,
					"want_qty":   wantQty,
				}, errors.New("stored slot diverges from approved requests"))
			}
			if err := tx.Where("daily_requirement_id = ?", stored.ID).
				Delete(&models.RequirementContribution{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.DailyRequirement{}, stored.ID).Error; err != nil {
				return err
			}
		}

		for _, slot := range computed {
			if err := tx.Create(slot).Error; err != nil {
				return err
			}
		}

		if err := models.RecordEvent(ctx, tx, models.NewEvent{
			EventType: models.EventLedgerRebuilt,
			Date:      &start,
			Quantity:  len(computed),
		}); err != nil {
			return err
		}

		logger.WithFields(logrus.Fields{
			"start":    start.Format("2006-01-02"),
			"end":      end.Format("2006-01-02"),
			"requests": len(requests),
			"slots":    len(computed),
		}).Info("ledger.rebuild.done")
		return nil
	})
	if err != nil {
		return err
	}
	for week := mondayOf(start); !week.After(end); week = week.AddDate(0, 0, 7) {
		_ = utils.ClearLedgerCache(week)
	}
	return nil
}

type DailyRequirementCell struct {
	Date     string `json:"date"`
	Day      string `json:"day"`
	Quantity int    `json:"quantity"`
}

type CategoryRequirementRow struct {
	Category string                 `json:"category"`
	Days     []DailyRequirementCell `json:"days"`
	Total    int                    `json:"total"`
}

type WeeklyRequirementReport struct {
	StartDate  string                   `json:"start_date"`
	EndDate    string                   `json:"end_date"`
	Categories []CategoryRequirementRow `json:"categories"`
	GrandTotal int                      `json:"grand_total"`
}

// QueryDailyRequirements aggregates the ledger for [start, end]: per-category
// per-day quantities, category totals and the grand total. Exact Monday-Friday
// windows are served from the redis cache; mutations invalidate the window.
func QueryDailyRequirements(ctx context.Context, start, end time.Time) (*WeeklyRequirementReport, error) {
	exactWeek := start.Weekday() == time.Monday && end.Equal(start.AddDate(0, 0, 4))
	if exactWeek {
		var cached *WeeklyRequirementReport
		if found, err := utils.RetrieveLedgerWindow(start, &cached); err == nil && found && cached != nil {
			return cached, nil
		}
	}

	slots, err := models.RequirementsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	report := buildWeeklyReport(slots, start, end)
	if exactWeek {
		_ = utils.StoreLedgerWindow(start, report)
	}
	return report, nil
}

func buildWeeklyReport(slots []models.DailyRequirement, start, end time.Time) *WeeklyRequirementReport {
	byCategory := map[string][]DailyRequirementCell{}
	totals := map[string]int{}
	var order []string
	grand := 0
	for _, slot := range slots {
		if _, seen := totals[slot.Category]; !seen {
			order = append(order, slot.Category)
		}
		byCategory[slot.Category] = append(byCategory[slot.Category], DailyRequirementCell{
			Date:     slot.Date.Format("2006-01-02"),
			Day:      string(slot.DayOfWeek),
			Quantity: slot.Quantity,
		})
		totals[slot.Category] += slot.Quantity
		grand += slot.Quantity
	}

	report := &WeeklyRequirementReport{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		GrandTotal: grand,
	}
	for _, category := range order {
		report.Categories = append(report.Categories, CategoryRequirementRow{
			Category: category,
			Days:     byCategory[category],
			Total:    totals[category],
		})
	}
	return report
}

// SetDailyRequirement is the admin override: it pins a slot's quantity
// directly, without touching contributions.
func SetDailyRequirement(ctx context.Context, category string, day models.Weekday, qty int, date time.Time, adminId string) (*models.DailyRequirement, error) {
	if qty < 0 {
		return nil, errors.New("quantity must not be negative")
	}

	db := config.GetDB()
	var slot *models.DailyRequirement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		slot, err = models.FetchRequirementSlot(tx, category, day, date)
		if err != nil {
			return err
		}
		if slot == nil {
			slot = &models.DailyRequirement{
				Category:  category,
				DayOfWeek: day,
				Date:      date,
				Quantity:  qty,
				CreatedBy: adminId,
			}
			if err := tx.Create(slot).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Model(&models.DailyRequirement{}).
				Where("id = ?", slot.ID).
				Updates(map[string]interface{}{"quantity": qty, "created_by": adminId}).Error; err != nil {
				return err
			}
			slot.Quantity = qty
		}
		return models.RecordEvent(ctx, tx, models.NewEvent{
			EventType: models.EventLedgerEntryCreated,
			Category:  category,
			DayOfWeek: day,
			Date:      &date,
			Quantity:  qty,
			UserId:    adminId,
		})
	})
	if err != nil {
		return nil, err
	}
	_ = utils.ClearLedgerCache(mondayOf(date))
	return slot, nil
}
