package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"github.com/shopspring/decimal"
)

// Purchase is a completed buyout: the rows listed in DataItems were marked
// sold and belong to the user permanently.
type Purchase struct {
	ID            int             `gorm:"primary_key" json:"id"`
	UserId        string          `gorm:"size:64;not null;index" json:"user_id"`
	Category      string          `gorm:"size:100;not null" json:"category"`
	DataItems     json.RawMessage `gorm:"type:json" json:"data_items"`
	TotalItems    int             `gorm:"not null" json:"total_items"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount"`
	PaymentStatus PaymentStatus   `gorm:"type:enum('pending','completed','failed');default:'pending'" json:"payment_status"`
	PaymentId     string          `gorm:"size:100" json:"payment_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func ListPurchasesForUser(ctx context.Context, userId string) ([]Purchase, error) {
	db := config.GetDB()
	var purchases []Purchase
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Find(&purchases).Error
	return purchases, err
}
