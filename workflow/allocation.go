package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrAllocationConflict is returned when another transaction claimed one of
// the selected rows between the read and the conditional update. Callers
// roll back and may retry; rows are never left half-claimed.
var ErrAllocationConflict = errors.New("allocation conflict: selected rows were claimed concurrently")

// AllocateDataItems claims up to quantity available rows of the category,
// oldest row_index first. A non-nil dateTag narrows the candidate set to rows
// uploaded for that delivery date; a nil dateTag selects untagged stock only,
// so rows reserved for other dates are never claimed out of turn.
//
// Runs inside the caller's transaction so multiple allocations compose
// atomically. Returns an empty slice (no error) when nothing is available.
func AllocateDataItems(tx *gorm.DB, logger *logrus.Logger, category string, quantity int, userId string, dateTag *time.Time) ([]models.AllocatedItem, error) {
	if quantity <= 0 {
		return nil, nil
	}

	q := tx.Model(&models.DataItem{}).
		Where("category = ? AND status = ?", category, models.DataItemStatusAvailable)
	if dateTag != nil {
		q = q.Where("delivery_date = ?", *dateTag)
	} else {
		q = q.Where("delivery_date IS NULL")
	}

	var candidates []models.DataItem
	if err := q.Order("row_index ASC").Limit(quantity).Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []models.AllocatedItem{}, nil
	}

	ids := make([]int, 0, len(candidates))
	for _, item := range candidates {
		ids = append(ids, item.ID)
	}

	now := time.Now().UTC()
	result := tx.Model(&models.DataItem{}).
		Where("id IN ? AND status = ?", ids, models.DataItemStatusAvailable).
		Updates(map[string]interface{}{
			"status":       models.DataItemStatusAllocated,
			"allocated_to": userId,
			"allocated_at": &now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected != int64(len(ids)) {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"category":      category,
				"requested":     quantity,
				"selected":      len(ids),
				"rows_affected": result.RowsAffected,
				"user_id":       userId,
			}).Warn("alloc.conflict")
		}
		return nil, ErrAllocationConflict
	}

	allocated := make([]models.AllocatedItem, 0, len(candidates))
	for _, item := range candidates {
		allocated = append(allocated, models.AllocatedItem{
			DataItemId: item.ID,
			RowIndex:   item.RowIndex,
			Metadata:   item.Metadata,
		})
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"category":  category,
			"requested": quantity,
			"allocated": len(allocated),
			"user_id":   userId,
		}).Info("alloc.success")
	}
	return allocated, nil
}
