package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
)

// PurchaseRequest spans one Monday-Friday week. Quantity must equal the sum
// of the per-weekday quantities; the per-weekday done flags drive completion.
type PurchaseRequest struct {
	ID               int                   `gorm:"primary_key" json:"id"`
	UserId           string                `gorm:"size:64;not null;index" json:"user_id"`
	Category         string                `gorm:"size:100;not null;index" json:"category"`
	Quantity         int                   `gorm:"not null" json:"quantity"`
	StartDate        time.Time             `gorm:"not null;index" json:"start_date"`
	EndDate          time.Time             `gorm:"not null;index" json:"end_date"`
	MondayQty        int                   `gorm:"not null;default:0" json:"monday_qty"`
	TuesdayQty       int                   `gorm:"not null;default:0" json:"tuesday_qty"`
	WednesdayQty     int                   `gorm:"not null;default:0" json:"wednesday_qty"`
	ThursdayQty      int                   `gorm:"not null;default:0" json:"thursday_qty"`
	FridayQty        int                   `gorm:"not null;default:0" json:"friday_qty"`
	MondayDone       bool                  `gorm:"not null;default:false" json:"monday_done"`
	TuesdayDone      bool                  `gorm:"not null;default:false" json:"tuesday_done"`
	WednesdayDone    bool                  `gorm:"not null;default:false" json:"wednesday_done"`
	ThursdayDone     bool                  `gorm:"not null;default:false" json:"thursday_done"`
	FridayDone       bool                  `gorm:"not null;default:false" json:"friday_done"`
	Status           PurchaseRequestStatus `gorm:"type:enum('pending','approved','rejected','completed');default:'pending';index" json:"status"`
	ApprovedAt       *time.Time            `gorm:"index" json:"approved_at"`
	NextDeliveryDate *time.Time            `json:"next_delivery_date"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseRequest struct {
	Category     string `json:"category" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,gt=0"`
	StartDate    string `json:"start_date" binding:"required"`
	EndDate      string `json:"end_date" binding:"required"`
	MondayQty    int    `json:"monday_qty" binding:"gte=0"`
	TuesdayQty   int    `json:"tuesday_qty" binding:"gte=0"`
	WednesdayQty int    `json:"wednesday_qty" binding:"gte=0"`
	ThursdayQty  int    `json:"thursday_qty" binding:"gte=0"`
	FridayQty    int    `json:"friday_qty" binding:"gte=0"`
}

// DayQty returns the quantity scheduled for the given weekday.
func (r *PurchaseRequest) DayQty(day Weekday) int {
	switch day {
	case WeekdayMonday:
		return r.MondayQty
	case WeekdayTuesday:
		return r.TuesdayQty
	case WeekdayWednesday:
		return r.WednesdayQty
	case WeekdayThursday:
		return r.ThursdayQty
	case WeekdayFriday:
		return r.FridayQty
	}
	return 0
}

// DayDone reports whether the given weekday has been delivered.
func (r *PurchaseRequest) DayDone(day Weekday) bool {
	switch day {
	case WeekdayMonday:
		return r.MondayDone
	case WeekdayTuesday:
		return r.TuesdayDone
	case WeekdayWednesday:
		return r.WednesdayDone
	case WeekdayThursday:
		return r.ThursdayDone
	case WeekdayFriday:
		return r.FridayDone
	}
	return false
}

// DoneColumn names the delivered-flag column for conditional updates.
func DoneColumn(day Weekday) string {
	switch day {
	case WeekdayMonday:
		return "monday_done"
	case WeekdayTuesday:
		return "tuesday_done"
	case WeekdayWednesday:
		return "wednesday_done"
	case WeekdayThursday:
		return "thursday_done"
	case WeekdayFriday:
		return "friday_done"
	}
	return ""
}

// DailySum adds up the per-weekday quantities.
func (r *PurchaseRequest) DailySum() int {
	return r.MondayQty + r.TuesdayQty + r.WednesdayQty + r.ThursdayQty + r.FridayQty
}

// AllScheduledDone is true when every weekday with a non-zero quantity has
// its delivered flag set.
func (r *PurchaseRequest) AllScheduledDone() bool {
	for _, day := range BusinessDays {
		if r.DayQty(day) > 0 && !r.DayDone(day) {
			return false
		}
	}
	return true
}

type PurchaseRequestFilter struct {
	UserId   string `form:"user_id"`
	Category string `form:"category"`
	Status   string `form:"status"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

func ListPurchaseRequests(ctx context.Context, filter PurchaseRequestFilter) ([]PurchaseRequest, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&PurchaseRequest{})
	if filter.UserId != "" {
		q = q.Where("user_id = ?", filter.UserId)
	}
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
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var requests []PurchaseRequest
	err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&requests).Error
	return requests, total, err
}

// ApprovedRequestsCoveringDate lists approved requests whose week span covers
// the date, ordered by approval time so earlier approvals win scarce stock.
func ApprovedRequestsCoveringDate(ctx context.Context, date time.Time) ([]PurchaseRequest, error) {
	db := config.GetDB()
	var requests []PurchaseRequest
	err := db.WithContext(ctx).
		Where("status = ? AND start_date <= ? AND end_date >= ?", PurchaseRequestStatusApproved, date, date).
		Order("approved_at ASC, id ASC").
		Find(&requests).Error
	return requests, err
}

// ApprovedRequestsForUserCoveringDate is the per-user variant used by the
// on-demand collect endpoint.
func ApprovedRequestsForUserCoveringDate(ctx context.Context, userId string, date time.Time) ([]PurchaseRequest, error) {
	db := config.GetDB()
	var requests []PurchaseRequest
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?",
			userId, PurchaseRequestStatusApproved, date, date).
		Order("approved_at ASC, id ASC").
		Find(&requests).Error
	return requests, err
}
