package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"gorm.io/gorm"
)

// DataItem is one uploaded inventory row. RowIndex is globally unique and
// monotonically increasing; allocation order follows it (oldest stock first).
type DataItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Category     string          `gorm:"size:100;not null;index;index:idx_item_pick,priority:1" json:"category"`
	Status       DataItemStatus  `gorm:"type:enum('available','allocated','sold','reserved');default:'available';index:idx_item_pick,priority:2" json:"status"`
	RowIndex     int             `gorm:"not null;unique;index:idx_item_pick,priority:3" json:"row_index"`
	AllocatedTo  *string         `gorm:"size:64;index" json:"allocated_to"`
	AllocatedAt  *time.Time      `json:"allocated_at"`
	SoldAt       *time.Time      `json:"sold_at"`
	PurchaseId   *int            `gorm:"index" json:"purchase_id"`
	DeliveryDate *time.Time      `gorm:"index" json:"delivery_date"`
	DayOfWeek    *Weekday        `gorm:"size:10" json:"day_of_week"`
	Metadata     json.RawMessage `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextDataItemIndex returns max(row_index)+1 across all categories.
// Call inside the upload transaction so concurrent uploads cannot interleave.
func NextDataItemIndex(tx *gorm.DB) (int, error) {
	var maxIndex *int
	err := tx.Model(&DataItem{}).Select("MAX(row_index)").Scan(&maxIndex).Error
	if err != nil {
		return 0, err
	}
	if maxIndex == nil {
		return 1, nil
	}
	return *maxIndex + 1, nil
}

// BulkInsertDataItems inserts rows with sequential indices starting at the
// current global maximum. When deliveryDate is set the rows are tagged for
// that date's weekday.
func BulkInsertDataItems(tx *gorm.DB, category string, rows []json.RawMessage, deliveryDate *time.Time) ([]DataItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	nextIndex, err := NextDataItemIndex(tx)
	if err != nil {
		return nil, err
	}

	var dayOfWeek *Weekday
	if deliveryDate != nil {
		if day, derr := WeekdayFromDate(*deliveryDate); derr == nil {
			dayOfWeek = &day
		}
	}

	items := make([]DataItem, 0, len(rows))
	for i, row := range rows {
		items = append(items, DataItem{
			Category:     category,
			Status:       DataItemStatusAvailable,
			RowIndex:     nextIndex + i,
			DeliveryDate: deliveryDate,
			DayOfWeek:    dayOfWeek,
			Metadata:     row,
		})
	}

	if err := tx.CreateInBatches(&items, 500).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func CountAvailableDataItems(ctx context.Context, category string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&DataItem{}).
		Where("category = ? AND status = ?", category, DataItemStatusAvailable).
		Count(&count).Error
	return count, err
}

type DataItemFilter struct {
	Category string `form:"category"`
	Status   string `form:"status"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

func ListDataItems(ctx context.Context, filter DataItemFilter) ([]DataItem, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&DataItem{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = config.SearchLimit
	}

	var items []DataItem
	err := q.Order("row_index ASC").Limit(limit).Offset(filter.Offset).Find(&items).Error
	return items, total, err
}

// CountDataItemsForSlot counts uploaded rows tagged to a (category, date) slot.
// Used by the ledger GC to keep slots that still have tagged inventory.
func CountDataItemsForSlot(tx *gorm.DB, category string, date time.Time) (int64, error) {
	var count int64
	err := tx.Model(&DataItem{}).
		Where("category = ? AND delivery_date = ?", category, date).
		Count(&count).Error
	return count, err
}
