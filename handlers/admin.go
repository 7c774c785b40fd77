package handlers

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"bitbucket.org/mmdatafocus/datamart_backend/workflow"
	"github.com/gin-gonic/gin"
)

type requestDecision struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
}

// DecidePurchaseRequest handles PUT /admin/purchase-requests/:id.
func DecidePurchaseRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
			return
		}
		var input requestDecision
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action must be approve or reject"})
			return
		}

		adminId, _ := utils.GetUserIdFromContext(c.Request.Context())
		logger := config.GetLogger()

		var request *models.PurchaseRequest
		if input.Action == "approve" {
			request, err = workflow.ApprovePurchaseRequest(c.Request.Context(), logger, id, adminId)
		} else {
			request, err = workflow.RejectPurchaseRequest(c.Request.Context(), logger, id, adminId)
		}
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "purchase request not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func DeletePurchaseRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
			return
		}
		logger := config.GetLogger()
		if err := workflow.DeletePurchaseRequest(c.Request.Context(), logger, id); err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "purchase request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

type bulkDeleteRequest struct {
	Ids []int `json:"ids" binding:"required,min=1"`
}

func BulkDeletePurchaseRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input bulkDeleteRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids are required"})
			return
		}
		if err := utils.ValidateResourcesId[models.PurchaseRequest](c.Request.Context(), input.Ids); err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "one or more purchase requests not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger := config.GetLogger()
		result, err := workflow.BulkDeletePurchaseRequests(c.Request.Context(), logger, input.Ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func ListPurchaseRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.PurchaseRequestFilter
		_ = c.ShouldBindQuery(&filter)

		requests, total, err := models.ListPurchaseRequests(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests, "total": total})
	}
}

type setRequirementRequest struct {
	Category string `json:"category" binding:"required"`
	Day      string `json:"day" binding:"required"`
	Date     string `json:"date" binding:"required"`
	Quantity int    `json:"quantity" binding:"gte=0"`
}

func SetDailyRequirement() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input setRequirementRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category, day and date are required"})
			return
		}
		day, err := models.ParseWeekday(input.Day)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := utils.ParseDateOnly(input.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		category, err := models.ResolveCategory(c.Request.Context(), input.Category)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}

		adminId, _ := utils.GetUserIdFromContext(c.Request.Context())
		slot, err := workflow.SetDailyRequirement(c.Request.Context(), category.Name, day, input.Quantity, date, adminId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, slot)
	}
}

func weekRangeFromQuery(c *gin.Context) (time.Time, time.Time, bool) {
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return time.Time{}, time.Time{}, false
	}
	start, err := utils.ParseDateOnly(startStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return time.Time{}, time.Time{}, false
	}
	end, err := utils.ParseDateOnly(endStr)
	if err != nil || end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func GetDailyRequirements() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, ok := weekRangeFromQuery(c)
		if !ok {
			return
		}
		report, err := workflow.QueryDailyRequirements(c.Request.Context(), start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func RebuildDailyRequirements() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, ok := weekRangeFromQuery(c)
		if !ok {
			return
		}
		logger := config.GetLogger()
		db := config.GetDB()
		if err := workflow.RebuildDailyRequirements(c.Request.Context(), db, logger, start, end); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		report, err := workflow.QueryDailyRequirements(c.Request.Context(), start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type sweepRequest struct {
	Date string `json:"date" binding:"required"`
}

// RunAllocationSweep triggers the sweep on demand (ops fallback for the cron).
func RunAllocationSweep() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input sweepRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date is required"})
			return
		}
		date, err := utils.ParseDateOnly(input.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
			return
		}
		logger := config.GetLogger()
		result, err := workflow.RunDailyAllocationSweep(c.Request.Context(), logger, date)
		if err != nil {
			if err == models.ErrNotBusinessDay {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

/* categories */

func CreateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		category, err := models.CreateCategory(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, category)
	}
}

func ListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		categories, err := models.ListCategories(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"categories": categories})
	}
}

func UpdateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
			return
		}
		var input models.NewCategory
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		category, err := models.UpdateCategory(c.Request.Context(), id, &input)
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, category)
	}
}

func DeleteCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
			return
		}
		if err := models.DeleteCategory(c.Request.Context(), id); err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

/* data items */

func ListDataItems() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.DataItemFilter
		_ = c.ShouldBindQuery(&filter)

		items, total, err := models.ListDataItems(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	}
}

/* users */

func ListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.UserFilter
		_ = c.ShouldBindQuery(&filter)

		users, total, err := models.ListUsers(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users, "total": total})
	}
}

type userStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending approved blocked"`
}

func SetUserStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Param("id")
		var input userStatusRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, approved or blocked"})
			return
		}
		user, err := models.SetUserStatus(c.Request.Context(), userId, models.UserStatus(input.Status))
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func DeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Param("id")
		logger := config.GetLogger()
		if err := workflow.DeleteUserCascade(c.Request.Context(), logger, userId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": userId})
	}
}

type bulkUserRequest struct {
	UserIds []string `json:"user_ids" binding:"required,min=1"`
}

type bulkUserResult struct {
	Processed int      `json:"processed"`
	Failed    []string `json:"failed"`
}

func bulkSetUserStatus(status models.UserStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input bulkUserRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids are required"})
			return
		}
		result := bulkUserResult{}
		for _, userId := range utils.UniqueSlice(input.UserIds) {
			if _, err := models.SetUserStatus(c.Request.Context(), userId, status); err != nil {
				result.Failed = append(result.Failed, userId)
				continue
			}
			result.Processed++
		}
		c.JSON(http.StatusOK, result)
	}
}

// BulkBlockUsers handles PUT /admin/users/bulk/block.
func BulkBlockUsers() gin.HandlerFunc {
	return bulkSetUserStatus(models.UserStatusBlocked)
}

// BulkUnblockUsers handles PUT /admin/users/bulk/unblock. Unblocked accounts
// return to approved, not pending, so they can log in again immediately.
func BulkUnblockUsers() gin.HandlerFunc {
	return bulkSetUserStatus(models.UserStatusApproved)
}

// BulkDeleteUsers handles DELETE /admin/users/bulk/delete. Each user cascades
// independently so one failure cannot poison the batch.
func BulkDeleteUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input bulkUserRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids are required"})
			return
		}
		logger := config.GetLogger()
		result := bulkUserResult{}
		for _, userId := range utils.UniqueSlice(input.UserIds) {
			if err := workflow.DeleteUserCascade(c.Request.Context(), logger, userId); err != nil {
				config.LogError(logger, "AdminUsers", "BulkDeleteUsers", "cascade delete failed", userId, err)
				result.Failed = append(result.Failed, userId)
				continue
			}
			result.Processed++
		}
		c.JSON(http.StatusOK, result)
	}
}

/* analytics */

type analyticsResponse struct {
	TotalUsers       int64            `json:"total_users"`
	PendingUsers     int64            `json:"pending_users"`
	TotalRequests    int64            `json:"total_requests"`
	PendingRequests  int64            `json:"pending_requests"`
	ApprovedRequests int64            `json:"approved_requests"`
	AvailableItems   map[string]int64 `json:"available_items"`
}

func Analytics() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var resp analyticsResponse
		var err error

		if resp.TotalUsers, err = utils.ResourceCountWhere[models.User](ctx, "1 = 1"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if resp.PendingUsers, err = utils.ResourceCountWhere[models.User](ctx, "status = ?", models.UserStatusPending); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if resp.TotalRequests, err = utils.ResourceCountWhere[models.PurchaseRequest](ctx, "1 = 1"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if resp.PendingRequests, err = utils.ResourceCountWhere[models.PurchaseRequest](ctx, "status = ?", models.PurchaseRequestStatusPending); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if resp.ApprovedRequests, err = utils.ResourceCountWhere[models.PurchaseRequest](ctx, "status = ?", models.PurchaseRequestStatusApproved); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		categories, err := models.ListCategories(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.AvailableItems = map[string]int64{}
		for _, category := range categories {
			count, err := models.CountAvailableDataItems(ctx, category.Name)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp.AvailableItems[category.Name] = count
		}
		c.JSON(http.StatusOK, resp)
	}
}
