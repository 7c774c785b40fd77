package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"gorm.io/gorm"
)

// DailyRequirement aggregates how many rows of a category must be delivered
// on one calendar date. Its quantity always equals the sum of its
// contributions; the ledger functions in workflow/ are the only writers.
type DailyRequirement struct {
	ID            int                       `gorm:"primary_key" json:"id"`
	Category      string                    `gorm:"size:100;not null;index:uniq_req_slot,unique,priority:1" json:"category"`
	DayOfWeek     Weekday                   `gorm:"size:10;not null;index:uniq_req_slot,unique,priority:2" json:"day_of_week"`
	Date          time.Time                 `gorm:"not null;index:uniq_req_slot,unique,priority:3;index" json:"date"`
	Quantity      int                       `gorm:"not null;default:0" json:"quantity"`
	CreatedBy     string                    `gorm:"size:64" json:"created_by"`
	Contributions []RequirementContribution `gorm:"foreignKey:DailyRequirementId" json:"contributions"`
	CreatedAt     time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

// RequirementContribution records one purchase request's share of a slot.
// At most one row per (slot, request).
type RequirementContribution struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	DailyRequirementId int       `gorm:"not null;index:uniq_req_contrib,unique,priority:1" json:"daily_requirement_id"`
	PurchaseRequestId  int       `gorm:"not null;index:uniq_req_contrib,unique,priority:2;index" json:"purchase_request_id"`
	UserId             string    `gorm:"size:64;not null;index" json:"user_id"`
	Quantity           int       `gorm:"not null" json:"quantity"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FetchRequirementSlot loads a slot with contributions inside a transaction.
// Returns nil when the slot does not exist.
func FetchRequirementSlot(tx *gorm.DB, category string, day Weekday, date time.Time) (*DailyRequirement, error) {
	var slot DailyRequirement
	err := tx.Preload("Contributions").
		Where("category = ? AND day_of_week = ? AND date = ?", category, day, date).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// RequirementsInRange lists slots with contributions for [start, end].
func RequirementsInRange(ctx context.Context, start, end time.Time) ([]DailyRequirement, error) {
	db := config.GetDB()
	var slots []DailyRequirement
	err := db.WithContext(ctx).Preload("Contributions").
		Where("date >= ? AND date <= ?", start, end).
		Order("date ASC, category ASC").
		Find(&slots).Error
	return slots, err
}
