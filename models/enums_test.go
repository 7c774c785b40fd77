package models

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekdayFromDate(t *testing.T) {
	cases := []struct {
		in   time.Time
		want Weekday
	}{
		{date(2026, time.August, 31), WeekdayMonday},
		{date(2026, time.September, 1), WeekdayTuesday},
		{date(2026, time.September, 2), WeekdayWednesday},
		{date(2026, time.September, 3), WeekdayThursday},
		{date(2026, time.September, 4), WeekdayFriday},
	}
	for _, tc := range cases {
		got, err := WeekdayFromDate(tc.in)
		if err != nil {
			t.Fatalf("WeekdayFromDate(%s): %v", tc.in.Format("2006-01-02"), err)
		}
		if got != tc.want {
			t.Fatalf("WeekdayFromDate(%s) = %s, want %s", tc.in.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestWeekdayFromDateWeekend(t *testing.T) {
	for _, d := range []time.Time{date(2026, time.September, 5), date(2026, time.September, 6)} {
		if _, err := WeekdayFromDate(d); err != ErrNotBusinessDay {
			t.Fatalf("WeekdayFromDate(%s) err = %v, want ErrNotBusinessDay", d.Format("2006-01-02"), err)
		}
	}
}

func TestDateForWeekday(t *testing.T) {
	monday := date(2026, time.August, 31)
	if got := DateForWeekday(monday, WeekdayMonday); !got.Equal(monday) {
		t.Fatalf("monday = %s", got)
	}
	if got := DateForWeekday(monday, WeekdayFriday); !got.Equal(date(2026, time.September, 4)) {
		t.Fatalf("friday = %s", got)
	}
}

func TestParseWeekday(t *testing.T) {
	if _, err := ParseWeekday("monday"); err != nil {
		t.Fatalf("monday: %v", err)
	}
	if _, err := ParseWeekday("saturday"); err == nil {
		t.Fatal("saturday should be rejected")
	}
	if _, err := ParseWeekday("Monday"); err == nil {
		t.Fatal("weekdays are lowercase on the wire")
	}
}

func TestPurchaseRequestDailyHelpers(t *testing.T) {
	r := PurchaseRequest{
		Quantity:   9,
		MondayQty:  5,
		FridayQty:  4,
		MondayDone: true,
	}
	if r.DailySum() != 9 {
		t.Fatalf("DailySum = %d", r.DailySum())
	}
	if r.DayQty(WeekdayMonday) != 5 || r.DayQty(WeekdayTuesday) != 0 {
		t.Fatal("DayQty mismatch")
	}
	if r.AllScheduledDone() {
		t.Fatal("friday is still undelivered")
	}
	r.FridayDone = true
	if !r.AllScheduledDone() {
		t.Fatal("all scheduled days are delivered")
	}
	if DoneColumn(WeekdayWednesday) != "wednesday_done" {
		t.Fatalf("DoneColumn = %s", DoneColumn(WeekdayWednesday))
	}
}

func TestNextCategoryCodeShape(t *testing.T) {
	// nextCategoryCode derives the code from the category count; spot-check
	// the base-26 rollover logic it relies on.
	codeFor := func(n int) string {
		code := ""
		for {
			code = string(rune('A'+n%26)) + code
			n = n/26 - 1
			if n < 0 {
				break
			}
		}
		return code
	}
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA"}
	for n, want := range cases {
		if got := codeFor(n); got != want {
			t.Fatalf("code(%d) = %s, want %s", n, got, want)
		}
	}
}
