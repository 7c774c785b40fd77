package workflow

import (
	"sort"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the intended allocation semantics:
// - FIFO by global row index
// - conditional claim detects concurrent winners (no partial claims survive)
// - full-quantity delivery policy: a shortfall releases everything it touched
//
// Full DB integration coverage lives in models/marketplace_regression_test.go
// (requires Docker, gated by INTEGRATION_TESTS=1).

type fakeRow struct {
	id       int
	rowIndex int
	status   models.DataItemStatus
	owner    string
}

type fakeInventory struct {
	mu   sync.Mutex
	rows []*fakeRow
}

func newFakeInventory(indices ...int) *fakeInventory {
	inv := &fakeInventory{}
	for i, idx := range indices {
		inv.rows = append(inv.rows, &fakeRow{id: i + 1, rowIndex: idx, status: models.DataItemStatusAvailable})
	}
	return inv
}

// pick mirrors the allocator's candidate query: available rows, ascending index.
func (inv *fakeInventory) pick(quantity int) []*fakeRow {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var avail []*fakeRow
	for _, r := range inv.rows {
		if r.status == models.DataItemStatusAvailable {
			avail = append(avail, r)
		}
	}
	sort.Slice(avail, func(i, j int) bool { return avail[i].rowIndex < avail[j].rowIndex })
	if len(avail) > quantity {
		avail = avail[:quantity]
	}
	return avail
}

// claim mirrors the conditional update: only rows still available flip.
func (inv *fakeInventory) claim(picked []*fakeRow, owner string) (int, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	affected := 0
	for _, r := range picked {
		if r.status == models.DataItemStatusAvailable {
			affected++
		}
	}
	if affected != len(picked) {
		return affected, false
	}
	for _, r := range picked {
		r.status = models.DataItemStatusAllocated
		r.owner = owner
	}
	return affected, true
}

func (inv *fakeInventory) release(picked []*fakeRow) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, r := range picked {
		if r.status == models.DataItemStatusAllocated {
			r.status = models.DataItemStatusAvailable
			r.owner = ""
		}
	}
}

func (inv *fakeInventory) indicesOwnedBy(owner string) []int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []int
	for _, r := range inv.rows {
		if r.owner == owner {
			out = append(out, r.rowIndex)
		}
	}
	sort.Ints(out)
	return out
}

func (inv *fakeInventory) availableCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n := 0
	for _, r := range inv.rows {
		if r.status == models.DataItemStatusAvailable {
			n++
		}
	}
	return n
}

func TestAllocationPicksLowestIndicesFirst(t *testing.T) {
	inv := newFakeInventory(7, 3, 9, 1, 5)

	picked := inv.pick(3)
	if _, ok := inv.claim(picked, "user-a"); !ok {
		t.Fatal("claim should succeed with no contention")
	}
	got := inv.indicesOwnedBy("user-a")
	want := []int{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("owned = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("owned = %v, want %v", got, want)
		}
	}
}

func TestConcurrentClaimsNeverShareRows(t *testing.T) {
	inv := newFakeInventory(1, 2, 3, 4, 5, 6, 7)

	// Both pick before either claims, like two transactions reading the same
	// snapshot. Exactly one conditional update may win each row.
	pickedA := inv.pick(5)
	pickedB := inv.pick(4)

	_, okA := inv.claim(pickedA, "user-a")
	_, okB := inv.claim(pickedB, "user-b")

	if okA && okB {
		t.Fatal("both claims succeeded over overlapping rows")
	}
	if !okA && !okB {
		t.Fatal("one claim should have won")
	}
	winner := "user-a"
	if okB {
		winner = "user-b"
	}
	other := "user-b"
	if winner == "user-b" {
		other = "user-a"
	}
	if n := len(inv.indicesOwnedBy(other)); n != 0 {
		t.Fatalf("loser still owns %d rows", n)
	}
	if n := len(inv.indicesOwnedBy(winner)); n == 0 {
		t.Fatal("winner owns nothing")
	}
}

func TestShortfallReleasesEverything(t *testing.T) {
	inv := newFakeInventory(1, 2, 3)

	// Needs 5, only 3 available: full-quantity policy rolls the claim back.
	picked := inv.pick(5)
	if len(picked) != 3 {
		t.Fatalf("picked %d rows, want 3", len(picked))
	}
	if _, ok := inv.claim(picked, "user-a"); !ok {
		t.Fatal("claim itself should succeed")
	}
	inv.release(picked)

	if inv.availableCount() != 3 {
		t.Fatalf("available = %d after rollback, want 3", inv.availableCount())
	}
	if n := len(inv.indicesOwnedBy("user-a")); n != 0 {
		t.Fatalf("user-a still owns %d rows after rollback", n)
	}
}

func TestTwoRequestMondayScenario(t *testing.T) {
	// Requests A (qty 5, approved first) and B (qty 4) against 7 rows.
	// A gets rows 1-5 and completes; B's 4 cannot be fully served from the
	// remaining 2, so B gets nothing and the 2 rows stay untouched.
	inv := newFakeInventory(1, 2, 3, 4, 5, 6, 7)

	deliver := func(owner string, qty int) bool {
		picked := inv.pick(qty)
		if len(picked) < qty {
			return false
		}
		if _, ok := inv.claim(picked, owner); !ok {
			return false
		}
		return true
	}

	if !deliver("user-a", 5) {
		t.Fatal("request A should be delivered in full")
	}
	if deliver("user-b", 4) {
		t.Fatal("request B must not be partially delivered")
	}
	if inv.availableCount() != 2 {
		t.Fatalf("available = %d, want 2 rows left for B", inv.availableCount())
	}

	got := inv.indicesOwnedBy("user-a")
	for i, idx := range []int{1, 2, 3, 4, 5} {
		if got[i] != idx {
			t.Fatalf("A owns %v, want rows 1-5", got)
		}
	}
}

func TestMondayOfAnchorsCacheWeeks(t *testing.T) {
	// 2026-09-07 is a Monday; every day through the following Sunday maps back to it.
	monday := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)
	for offset := 0; offset < 7; offset++ {
		day := monday.AddDate(0, 0, offset)
		if got := mondayOf(day); !got.Equal(monday) {
			t.Fatalf("mondayOf(%s) = %s, want %s",
				day.Format("2006-01-02"), got.Format("2006-01-02"), monday.Format("2006-01-02"))
		}
	}
}

func TestBuildWeeklyReportAggregation(t *testing.T) {
	start := time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 4)

	slots := []models.DailyRequirement{
		{Category: "Alpha", DayOfWeek: models.WeekdayMonday, Date: start, Quantity: 5},
		{Category: "Alpha", DayOfWeek: models.WeekdayFriday, Date: start.AddDate(0, 0, 4), Quantity: 4},
		{Category: "Beta", DayOfWeek: models.WeekdayMonday, Date: start, Quantity: 2},
	}

	report := buildWeeklyReport(slots, start, end)
	if report.GrandTotal != 11 {
		t.Fatalf("grand total = %d, want 11", report.GrandTotal)
	}
	if len(report.Categories) != 2 {
		t.Fatalf("categories = %d, want 2", len(report.Categories))
	}
	if report.Categories[0].Category != "Alpha" || report.Categories[0].Total != 9 {
		t.Fatalf("alpha row = %+v", report.Categories[0])
	}
	if report.Categories[1].Category != "Beta" || report.Categories[1].Total != 2 {
		t.Fatalf("beta row = %+v", report.Categories[1])
	}
	if len(report.Categories[0].Days) != 2 {
		t.Fatalf("alpha days = %d, want 2", len(report.Categories[0].Days))
	}
}
