package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"bitbucket.org/mmdatafocus/datamart_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Regression: two approved requests competing for the same Monday inventory.
// A (qty 5, approved first) must be delivered in full; B (qty 4) must get
// nothing at all while only 2 rows remain, its shortfall must be persisted as
// an outbox event, and the sweep must stay idempotent until enough untagged
// inventory arrives for B's full quantity. Rows reserved for another delivery
// date never count toward it.
func TestWeeklySweepFullQuantityDelivery(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "datamart_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := config.GetLogger()

	category, err := models.CreateCategory(ctx, &models.NewCategory{Name: "Survey Leads"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	seedRows(t, db, category.Name, 7, nil)

	// 2026-09-07 is a Monday.
	monday := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)

	requestA := submitAndApprove(t, ctx, logger, "user-a", category.Name, 5)
	requestB := submitAndApprove(t, ctx, logger, "user-b", category.Name, 4)

	// Approval already delivered A's Monday and recorded B's shortfall.
	refetchRequest(t, db, requestA)
	refetchRequest(t, db, requestB)
	if !requestA.MondayDone {
		t.Fatalf("request A monday_done = false, want delivered at approval")
	}
	if requestB.MondayDone {
		t.Fatalf("request B monday_done = true despite shortfall")
	}
	assertAllocationRecords(t, db, requestA.ID, 1)
	assertAllocationRecords(t, db, requestB.ID, 0)
	assertAvailable(t, ctx, category.Name, 2)

	// B's shortfall must survive the allocation rollback as an outbox event.
	var insufficiencies int64
	if err := db.Model(&models.EventRecord{}).
		Where("event_type = ? AND purchase_request_id = ?", models.EventAllocationInsufficient, requestB.ID).
		Count(&insufficiencies).Error; err != nil {
		t.Fatalf("count insufficiency events: %v", err)
	}
	if insufficiencies != 1 {
		t.Fatalf("request B has %d insufficiency events after approval, want 1", insufficiencies)
	}

	// Sweep re-run: no double delivery, no partial delivery for B.
	sweep, err := workflow.RunDailyAllocationSweep(ctx, logger, monday)
	if err != nil {
		t.Fatalf("RunDailyAllocationSweep(first): %v", err)
	}
	if sweep.Delivered != 0 {
		t.Fatalf("idempotent sweep delivered %d, want 0", sweep.Delivered)
	}
	assertAllocationRecords(t, db, requestA.ID, 1)
	assertAllocationRecords(t, db, requestB.ID, 0)
	assertAvailable(t, ctx, category.Name, 2)

	// Rows reserved for Friday must not satisfy B's Monday quantity.
	friday := monday.AddDate(0, 0, 4)
	seedRows(t, db, category.Name, 4, &friday)
	sweep, err = workflow.RunDailyAllocationSweep(ctx, logger, monday)
	if err != nil {
		t.Fatalf("RunDailyAllocationSweep(tagged): %v", err)
	}
	if sweep.Delivered != 0 {
		t.Fatalf("sweep claimed date-reserved rows: delivered %d, want 0", sweep.Delivered)
	}
	assertAllocationRecords(t, db, requestB.ID, 0)
	assertAvailable(t, ctx, category.Name, 6)

	// Fresh untagged inventory arrives: B's full quantity becomes servable.
	seedRows(t, db, category.Name, 2, nil)
	sweep, err = workflow.RunDailyAllocationSweep(ctx, logger, monday)
	if err != nil {
		t.Fatalf("RunDailyAllocationSweep(second): %v", err)
	}
	if sweep.Delivered != 1 {
		t.Fatalf("second sweep delivered %d, want 1 (request B)", sweep.Delivered)
	}
	refetchRequest(t, db, requestB)
	if !requestB.MondayDone {
		t.Fatalf("request B monday_done = false after restock sweep")
	}
	assertAllocationRecords(t, db, requestB.ID, 1)
	assertAvailable(t, ctx, category.Name, 4)

	// The Friday stock sits untouched for its own delivery date.
	var fridayAvailable int64
	if err := db.Model(&models.DataItem{}).
		Where("category = ? AND status = ? AND delivery_date = ?",
			category.Name, models.DataItemStatusAvailable, friday).
		Count(&fridayAvailable).Error; err != nil {
		t.Fatalf("count friday rows: %v", err)
	}
	if fridayAvailable != 4 {
		t.Fatalf("friday-reserved rows available = %d, want 4", fridayAvailable)
	}

	// B's snapshot must hold exactly its full quantity, lowest indices first.
	var record models.UserAllocatedData
	if err := db.Where("purchase_request_id = ?", requestB.ID).First(&record).Error; err != nil {
		t.Fatalf("fetch B allocation record: %v", err)
	}
	if record.TotalAllocated != 4 {
		t.Fatalf("B total_allocated = %d, want 4", record.TotalAllocated)
	}
	var items []models.AllocatedItem
	if err := json.Unmarshal(record.AllocatedData, &items); err != nil {
		t.Fatalf("unmarshal allocation snapshot: %v", err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].RowIndex <= items[i-1].RowIndex {
			t.Fatalf("snapshot not in ascending row order: %+v", items)
		}
	}
}

// Regression: the requirement ledger must conserve quantities (slot quantity
// equals the sum of its contributions) through approvals and deletions, and
// garbage-collect slots nothing references anymore.
func TestRequirementLedgerConservation(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "datamart_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	category, err := models.CreateCategory(ctx, &models.NewCategory{Name: "Market Panel"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	seedRows(t, db, category.Name, 20, nil)

	monday := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)

	requestA := submitAndApprove(t, ctx, logger, "user-a", category.Name, 5)
	requestB := submitAndApprove(t, ctx, logger, "user-b", category.Name, 4)

	slot := fetchSlot(t, db, category.Name, monday)
	if slot == nil {
		t.Fatalf("monday slot missing after approvals")
	}
	assertSlotConserved(t, slot, 9, 2)

	// Deleting A reverses its contribution but keeps the slot for B.
	if err := workflow.DeletePurchaseRequest(ctx, logger, requestA.ID); err != nil {
		t.Fatalf("DeletePurchaseRequest(A): %v", err)
	}
	slot = fetchSlot(t, db, category.Name, monday)
	if slot == nil {
		t.Fatalf("monday slot deleted while B still contributes")
	}
	assertSlotConserved(t, slot, 4, 1)
	assertAllocationRecords(t, db, requestA.ID, 0)

	// Deleting B leaves nothing referencing the slot: it must be collected.
	if err := workflow.DeletePurchaseRequest(ctx, logger, requestB.ID); err != nil {
		t.Fatalf("DeletePurchaseRequest(B): %v", err)
	}
	if slot = fetchSlot(t, db, category.Name, monday); slot != nil {
		t.Fatalf("monday slot survived with no contributions: %+v", slot)
	}

	// Rebuild over an empty ledger stays empty.
	if err := workflow.RebuildDailyRequirements(ctx, db, logger, monday, monday.AddDate(0, 0, 4)); err != nil {
		t.Fatalf("RebuildDailyRequirements: %v", err)
	}
	report, err := workflow.QueryDailyRequirements(ctx, monday, monday.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("QueryDailyRequirements: %v", err)
	}
	if report.GrandTotal != 0 {
		t.Fatalf("grand total = %d after full teardown, want 0", report.GrandTotal)
	}
}

// Regression: the bulk user operations delegate to SetUserStatus and
// DeleteUserCascade per id. Blocking locks the account out, unblocking
// restores approved, and the cascade removes the user's requests, allocation
// records and ledger contributions along with the account.
func TestUserAdministrationCascade(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "datamart_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	userA, err := models.RegisterUser(ctx, &models.NewUser{Email: "a@example.com", Password: "secret-a"})
	if err != nil {
		t.Fatalf("RegisterUser(a): %v", err)
	}
	userB, err := models.RegisterUser(ctx, &models.NewUser{Email: "b@example.com", Password: "secret-b"})
	if err != nil {
		t.Fatalf("RegisterUser(b): %v", err)
	}
	for _, u := range []*models.User{userA, userB} {
		if _, err := models.SetUserStatus(ctx, u.UserId, models.UserStatusApproved); err != nil {
			t.Fatalf("SetUserStatus(approve %s): %v", u.UserId, err)
		}
	}

	category, err := models.CreateCategory(ctx, &models.NewCategory{Name: "Field Reports"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	seedRows(t, db, category.Name, 10, nil)

	monday := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)
	request := submitAndApprove(t, ctx, logger, userA.UserId, category.Name, 3)
	assertAllocationRecords(t, db, request.ID, 1)

	// Block both ids the way the bulk endpoint does.
	for _, u := range []*models.User{userA, userB} {
		if _, err := models.SetUserStatus(ctx, u.UserId, models.UserStatusBlocked); err != nil {
			t.Fatalf("SetUserStatus(block %s): %v", u.UserId, err)
		}
	}
	if _, err := models.Login(ctx, "a@example.com", "secret-a"); err == nil {
		t.Fatalf("blocked user logged in")
	}

	// Unblock restores approved, not pending.
	if _, err := models.SetUserStatus(ctx, userA.UserId, models.UserStatusApproved); err != nil {
		t.Fatalf("SetUserStatus(unblock): %v", err)
	}
	if _, err := models.Login(ctx, "a@example.com", "secret-a"); err != nil {
		t.Fatalf("unblocked user cannot log in: %v", err)
	}

	if err := workflow.DeleteUserCascade(ctx, logger, userA.UserId); err != nil {
		t.Fatalf("DeleteUserCascade: %v", err)
	}
	if _, err := models.FetchUserByPublicId(ctx, userA.UserId); err != utils.ErrorRecordNotFound {
		t.Fatalf("user A still resolvable after cascade, err = %v", err)
	}
	assertAllocationRecords(t, db, request.ID, 0)
	var remaining int64
	if err := db.Model(&models.PurchaseRequest{}).
		Where("user_id = ?", userA.UserId).Count(&remaining).Error; err != nil {
		t.Fatalf("count requests: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("user A still owns %d requests after cascade", remaining)
	}
	if slot := fetchSlot(t, db, category.Name, monday); slot != nil {
		t.Fatalf("ledger slot survived cascade: %+v", slot)
	}

	// B is untouched.
	if _, err := models.FetchUserByPublicId(ctx, userB.UserId); err != nil {
		t.Fatalf("user B lost in cascade: %v", err)
	}
}

func seedRows(t *testing.T, db *gorm.DB, category string, n int, deliveryDate *time.Time) {
	t.Helper()
	rows := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, json.RawMessage(fmt.Sprintf(`{"lead":"seed-%d"}`, i)))
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := models.BulkInsertDataItems(tx, category, rows, deliveryDate)
		return err
	})
	if err != nil {
		t.Fatalf("BulkInsertDataItems: %v", err)
	}
}

func submitAndApprove(t *testing.T, ctx context.Context, logger *logrus.Logger, userId, category string, mondayQty int) *models.PurchaseRequest {
	t.Helper()
	result, err := workflow.SubmitPurchaseRequest(ctx, logger, userId, &models.NewPurchaseRequest{
		Category:  category,
		Quantity:  mondayQty,
		StartDate: "2026-09-07",
		EndDate:   "2026-09-11",
		MondayQty: mondayQty,
	})
	if err != nil {
		t.Fatalf("SubmitPurchaseRequest(%s): %v", userId, err)
	}
	approved, err := workflow.ApprovePurchaseRequest(ctx, logger, result.Request.ID, "admin-test")
	if err != nil {
		t.Fatalf("ApprovePurchaseRequest(%s): %v", userId, err)
	}
	return approved
}

func refetchRequest(t *testing.T, db *gorm.DB, request *models.PurchaseRequest) {
	t.Helper()
	if err := db.First(request, request.ID).Error; err != nil {
		t.Fatalf("refetch request %d: %v", request.ID, err)
	}
}

func assertAllocationRecords(t *testing.T, db *gorm.DB, requestId int, want int64) {
	t.Helper()
	var count int64
	if err := db.Model(&models.UserAllocatedData{}).
		Where("purchase_request_id = ?", requestId).
		Count(&count).Error; err != nil {
		t.Fatalf("count allocation records: %v", err)
	}
	if count != want {
		t.Fatalf("request %d has %d allocation records, want %d", requestId, count, want)
	}
}

func assertAvailable(t *testing.T, ctx context.Context, category string, want int64) {
	t.Helper()
	available, err := models.CountAvailableDataItems(ctx, category)
	if err != nil {
		t.Fatalf("CountAvailableDataItems: %v", err)
	}
	if available != want {
		t.Fatalf("available = %d, want %d", available, want)
	}
}

func fetchSlot(t *testing.T, db *gorm.DB, category string, date time.Time) *models.DailyRequirement {
	t.Helper()
	slot, err := models.FetchRequirementSlot(db, category, models.WeekdayMonday, date)
	if err != nil {
		t.Fatalf("FetchRequirementSlot: %v", err)
	}
	return slot
}

func assertSlotConserved(t *testing.T, slot *models.DailyRequirement, wantQty, wantContribs int) {
	t.Helper()
	if slot.Quantity != wantQty {
		t.Fatalf("slot quantity = %d, want %d", slot.Quantity, wantQty)
	}
	if len(slot.Contributions) != wantContribs {
		t.Fatalf("slot contributions = %d, want %d", len(slot.Contributions), wantContribs)
	}
	sum := 0
	for _, c := range slot.Contributions {
		sum += c.Quantity
	}
	if sum != slot.Quantity {
		t.Fatalf("slot quantity %d != contribution sum %d", slot.Quantity, sum)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("datamart-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("datamart-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=datamart_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
