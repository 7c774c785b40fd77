package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lifecycleModule = "RequestLifecycle"

type SubmitResult struct {
	Request      *models.PurchaseRequest `json:"request"`
	AvailableNow int64                   `json:"available_now"`
	Message      string                  `json:"message"`
}

// SubmitPurchaseRequest validates and persists a pending request.
// Insufficient current inventory is not a rejection: the request queues and
// the response reports how many rows are available right now.
func SubmitPurchaseRequest(ctx context.Context, logger *logrus.Logger, userId string, input *models.NewPurchaseRequest) (*SubmitResult, error) {
	category, err := models.ResolveCategory(ctx, input.Category)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, errors.New("unknown category: " + input.Category)
		}
		return nil, err
	}

	startDate, err := utils.ParseDateOnly(input.StartDate)
	if err != nil {
		return nil, errors.New("invalid start_date, expected YYYY-MM-DD")
	}
	endDate, err := utils.ParseDateOnly(input.EndDate)
	if err != nil {
		return nil, errors.New("invalid end_date, expected YYYY-MM-DD")
	}
	if startDate.Weekday() != time.Monday {
		return nil, errors.New("start_date must be a Monday")
	}
	if !endDate.Equal(startDate.AddDate(0, 0, 4)) {
		return nil, errors.New("end_date must be the Friday of the same week")
	}

	request := &models.PurchaseRequest{
		UserId:       userId,
		Category:     category.Name,
		Quantity:     input.Quantity,
		StartDate:    startDate,
		EndDate:      endDate,
		MondayQty:    input.MondayQty,
		TuesdayQty:   input.TuesdayQty,
		WednesdayQty: input.WednesdayQty,
		ThursdayQty:  input.ThursdayQty,
		FridayQty:    input.FridayQty,
		Status:       models.PurchaseRequestStatusPending,
	}
	if request.DailySum() != request.Quantity {
		return nil, errors.New("daily quantities must add up to the total quantity")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return err
		}
		return models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventRequestSubmitted,
			Category:          request.Category,
			Quantity:          request.Quantity,
			UserId:            userId,
			PurchaseRequestId: request.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	available, err := models.CountAvailableDataItems(ctx, category.Name)
	if err != nil {
		return nil, err
	}

	message := "request submitted"
	if available < int64(request.Quantity) {
		message = "request queued, awaiting inventory"
	}
	logger.WithFields(logrus.Fields{
		"request":   request.ID,
		"category":  request.Category,
		"quantity":  request.Quantity,
		"available": available,
		"user_id":   userId,
	}).Info("request.submit")

	return &SubmitResult{Request: request, AvailableNow: available, Message: message}, nil
}

// ApprovePurchaseRequest transitions pending -> approved, posts the weekly
// ledger contributions and immediately tries to deliver each weekday in full
// (best effort: shortfalls and conflicts defer to the sweep or on-demand
// collect). Single transaction.
func ApprovePurchaseRequest(ctx context.Context, logger *logrus.Logger, requestId int, adminId string) (*models.PurchaseRequest, error) {
	db := config.GetDB()
	var request models.PurchaseRequest

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&request, requestId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if request.Status != models.PurchaseRequestStatusPending {
			return errors.New("only pending requests can be approved")
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.PurchaseRequest{}).
			Where("id = ?", request.ID).
			Updates(map[string]interface{}{
				"status":      models.PurchaseRequestStatusApproved,
				"approved_at": &now,
			}).Error; err != nil {
			return err
		}
		request.Status = models.PurchaseRequestStatusApproved
		request.ApprovedAt = &now

		for _, day := range models.BusinessDays {
			qty := request.DayQty(day)
			if qty <= 0 {
				continue
			}
			date := models.DateForWeekday(request.StartDate, day)
			if err := AddContribution(ctx, tx, logger, request.Category, day, date, &request, qty); err != nil {
				return err
			}
			if _, err := allocateRequestDay(ctx, tx, logger, &request, day, date); err != nil {
				return err
			}
		}

		return models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventRequestApproved,
			Category:          request.Category,
			Quantity:          request.Quantity,
			UserId:            request.UserId,
			PurchaseRequestId: request.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	_ = utils.ClearLedgerCache(request.StartDate)

	logger.WithFields(logrus.Fields{
		"request":  request.ID,
		"category": request.Category,
		"admin":    adminId,
	}).Info("request.approve")
	return &request, nil
}

func RejectPurchaseRequest(ctx context.Context, logger *logrus.Logger, requestId int, adminId string) (*models.PurchaseRequest, error) {
	db := config.GetDB()
	var request models.PurchaseRequest

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&request, requestId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if request.Status != models.PurchaseRequestStatusPending {
			return errors.New("only pending requests can be rejected")
		}
		if err := tx.Model(&models.PurchaseRequest{}).
			Where("id = ?", request.ID).
			Update("status", models.PurchaseRequestStatusRejected).Error; err != nil {
			return err
		}
		request.Status = models.PurchaseRequestStatusRejected
		return models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventRequestRejected,
			Category:          request.Category,
			UserId:            request.UserId,
			PurchaseRequestId: request.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"request": request.ID,
		"admin":   adminId,
	}).Info("request.reject")
	return &request, nil
}

// deleteRequestTx reconciles the ledger and allocation records for one
// request inside the given transaction, then deletes the request.
func deleteRequestTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, request *models.PurchaseRequest) error {
	if request.Status == models.PurchaseRequestStatusApproved ||
		request.Status == models.PurchaseRequestStatusCompleted {
		for _, day := range models.BusinessDays {
			if request.DayQty(day) <= 0 {
				continue
			}
			date := models.DateForWeekday(request.StartDate, day)
			if err := RemoveContribution(ctx, tx, logger, request.Category, day, date, request.ID); err != nil {
				return err
			}
		}
	}

	if err := tx.Where("purchase_request_id = ?", request.ID).
		Delete(&models.UserAllocatedData{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(&models.PurchaseRequest{}, request.ID).Error; err != nil {
		return err
	}
	return models.RecordEvent(ctx, tx, models.NewEvent{
		EventType:         models.EventRequestDeleted,
		Category:          request.Category,
		Quantity:          request.Quantity,
		UserId:            request.UserId,
		PurchaseRequestId: request.ID,
	})
}

func DeletePurchaseRequest(ctx context.Context, logger *logrus.Logger, requestId int) error {
	db := config.GetDB()
	var request models.PurchaseRequest
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&request, requestId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		return deleteRequestTx(ctx, tx, logger, &request)
	})
	if err != nil {
		return err
	}
	_ = utils.ClearLedgerCache(request.StartDate)
	return nil
}

type BulkDeleteResult struct {
	Deleted int   `json:"deleted"`
	Failed  []int `json:"failed"`
}

// BulkDeletePurchaseRequests deletes each request in its own transaction so
// one failure cannot poison the batch.
func BulkDeletePurchaseRequests(ctx context.Context, logger *logrus.Logger, ids []int) (*BulkDeleteResult, error) {
	result := &BulkDeleteResult{}
	for _, id := range utils.UniqueSlice(ids) {
		if err := DeletePurchaseRequest(ctx, logger, id); err != nil {
			config.LogError(logger, lifecycleModule, "BulkDeletePurchaseRequests", "delete failed", id, err)
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Deleted++
	}
	return result, nil
}

// DeleteUserCascade removes a user and every trace of them: allocation
// records, purchases, ledger contributions (request by request, so slot
// quantities reconcile), requests, then the account. One transaction.
func DeleteUserCascade(ctx context.Context, logger *logrus.Logger, userId string) error {
	db := config.GetDB()
	var requests []models.PurchaseRequest
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userId).Find(&requests).Error; err != nil {
			return err
		}
		for i := range requests {
			if err := deleteRequestTx(ctx, tx, logger, &requests[i]); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userId).Delete(&models.UserAllocatedData{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userId).Delete(&models.Purchase{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userId).Delete(&models.User{}).Error; err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"user_id":  userId,
			"requests": len(requests),
		}).Info("user.cascade.delete")
		return nil
	})
	if err != nil {
		return err
	}
	for i := range requests {
		_ = utils.ClearLedgerCache(requests[i].StartDate)
	}
	return nil
}

// CompletePurchase finalizes a buyout after payment success: every row the
// user holds for the request is marked sold and snapshotted on a Purchase
// record, and the request closes.
func CompletePurchase(ctx context.Context, logger *logrus.Logger, userId string, requestId int, paymentId string, amount decimal.Decimal) (*models.Purchase, error) {
	db := config.GetDB()
	var purchase models.Purchase

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request models.PurchaseRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&request, requestId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if request.UserId != userId {
			return errors.New("request does not belong to user")
		}

		var items []models.DataItem
		if err := tx.Where("allocated_to = ? AND category = ? AND status = ?",
			userId, request.Category, models.DataItemStatusAllocated).
			Order("row_index ASC").
			Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return errors.New("no allocated rows to purchase")
		}

		ids := make([]int, 0, len(items))
		snapshot := make([]models.AllocatedItem, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
			snapshot = append(snapshot, models.AllocatedItem{
				DataItemId: item.ID,
				RowIndex:   item.RowIndex,
				Metadata:   item.Metadata,
			})
		}
		snapshotJSON, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}

		purchase = models.Purchase{
			UserId:        userId,
			Category:      request.Category,
			DataItems:     snapshotJSON,
			TotalItems:    len(items),
			Amount:        amount,
			PaymentStatus: models.PaymentStatusCompleted,
			PaymentId:     paymentId,
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.DataItem{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":      models.DataItemStatusSold,
				"sold_at":     &now,
				"purchase_id": purchase.ID,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.PurchaseRequest{}).
			Where("id = ?", request.ID).
			Update("status", models.PurchaseRequestStatusCompleted).Error; err != nil {
			return err
		}

		return models.RecordEvent(ctx, tx, models.NewEvent{
			EventType:         models.EventPurchaseCompleted,
			Category:          request.Category,
			Quantity:          len(items),
			UserId:            userId,
			PurchaseRequestId: request.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"purchase": purchase.ID,
		"user_id":  userId,
		"items":    purchase.TotalItems,
	}).Info("purchase.complete")
	return &purchase, nil
}
