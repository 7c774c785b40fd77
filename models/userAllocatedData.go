package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"gorm.io/gorm"
)

// AllocatedItem is one element of the allocation snapshot stored on
// UserAllocatedData.AllocatedData.
type AllocatedItem struct {
	DataItemId int             `json:"data_item_id"`
	RowIndex   int             `json:"row_index"`
	Metadata   json.RawMessage `json:"metadata"`
}

// UserAllocatedData records a completed full-quantity delivery for one
// (request, weekday). The unique index doubles as the idempotency guard:
// a second collect for the same day cannot insert a second record.
type UserAllocatedData struct {
	ID                int              `gorm:"primary_key" json:"id"`
	UserId            string           `gorm:"size:64;not null;index" json:"user_id"`
	Category          string           `gorm:"size:100;not null;index" json:"category"`
	PurchaseRequestId int              `gorm:"not null;index:uniq_alloc_day,unique,priority:1" json:"purchase_request_id"`
	DayOfWeek         Weekday          `gorm:"size:10;not null;index:uniq_alloc_day,unique,priority:2" json:"day_of_week"`
	Date              time.Time        `gorm:"not null;index" json:"date"`
	AllocatedData     json.RawMessage  `gorm:"type:json" json:"allocated_data"`
	TotalAllocated    int              `gorm:"not null" json:"total_allocated"`
	Status            AllocationStatus `gorm:"type:enum('pending','allocated','delivered');default:'allocated'" json:"status"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasAllocationRecord checks the (request, weekday) guard inside a transaction.
func HasAllocationRecord(tx *gorm.DB, purchaseRequestId int, day Weekday) (bool, error) {
	var count int64
	err := tx.Model(&UserAllocatedData{}).
		Where("purchase_request_id = ? AND day_of_week = ?", purchaseRequestId, day).
		Count(&count).Error
	return count > 0, err
}

func ListAllocationsForUser(ctx context.Context, userId string) ([]UserAllocatedData, error) {
	db := config.GetDB()
	var records []UserAllocatedData
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("date DESC, id DESC").
		Find(&records).Error
	return records, err
}
