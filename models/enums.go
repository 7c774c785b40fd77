package models

import (
	"errors"
	"time"
)

type DataItemStatus string

const (
	DataItemStatusAvailable DataItemStatus = "available"
	DataItemStatusAllocated DataItemStatus = "allocated"
	DataItemStatusSold      DataItemStatus = "sold"
	DataItemStatusReserved  DataItemStatus = "reserved"
)

type PurchaseRequestStatus string

const (
	PurchaseRequestStatusPending   PurchaseRequestStatus = "pending"
	PurchaseRequestStatusApproved  PurchaseRequestStatus = "approved"
	PurchaseRequestStatusRejected  PurchaseRequestStatus = "rejected"
	PurchaseRequestStatusCompleted PurchaseRequestStatus = "completed"
)

type AllocationStatus string

const (
	AllocationStatusPending   AllocationStatus = "pending"
	AllocationStatusAllocated AllocationStatus = "allocated"
	AllocationStatusDelivered AllocationStatus = "delivered"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusBlocked  UserStatus = "blocked"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Weekday names the business days a purchase request spans.
type Weekday string

const (
	WeekdayMonday    Weekday = "monday"
	WeekdayTuesday   Weekday = "tuesday"
	WeekdayWednesday Weekday = "wednesday"
	WeekdayThursday  Weekday = "thursday"
	WeekdayFriday    Weekday = "friday"
)

// BusinessDays lists the deliverable weekdays in order, Monday first.
var BusinessDays = []Weekday{
	WeekdayMonday, WeekdayTuesday, WeekdayWednesday, WeekdayThursday, WeekdayFriday,
}

var ErrNotBusinessDay = errors.New("date is not a business day (Monday-Friday)")

// WeekdayFromDate maps a calendar date to its business weekday.
// Saturday and Sunday return ErrNotBusinessDay.
func WeekdayFromDate(t time.Time) (Weekday, error) {
	switch t.Weekday() {
	case time.Monday:
		return WeekdayMonday, nil
	case time.Tuesday:
		return WeekdayTuesday, nil
	case time.Wednesday:
		return WeekdayWednesday, nil
	case time.Thursday:
		return WeekdayThursday, nil
	case time.Friday:
		return WeekdayFriday, nil
	default:
		return "", ErrNotBusinessDay
	}
}

// WeekdayIndex returns 0 for Monday through 4 for Friday, -1 otherwise.
func WeekdayIndex(day Weekday) int {
	for i, d := range BusinessDays {
		if d == day {
			return i
		}
	}
	return -1
}

// ParseWeekday accepts the lowercase day name.
func ParseWeekday(s string) (Weekday, error) {
	day := Weekday(s)
	if WeekdayIndex(day) < 0 {
		return "", errors.New("invalid weekday: " + s)
	}
	return day, nil
}

// DateForWeekday returns the calendar date of the given weekday inside the
// week starting at startDate (a Monday).
func DateForWeekday(startDate time.Time, day Weekday) time.Time {
	return startDate.AddDate(0, 0, WeekdayIndex(day))
}
