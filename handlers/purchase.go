package handlers

import (
	"net/http"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"bitbucket.org/mmdatafocus/datamart_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func SubmitPurchaseRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		var input models.NewPurchaseRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			if verr, ok := err.(validator.ValidationErrors); ok {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(verr)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		logger := config.GetLogger()
		result, err := workflow.SubmitPurchaseRequest(c.Request.Context(), logger, userId, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func ListMyPurchaseRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		var filter models.PurchaseRequestFilter
		_ = c.ShouldBindQuery(&filter)
		filter.UserId = userId

		requests, total, err := models.ListPurchaseRequests(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests, "total": total})
	}
}

type collectDailyRequest struct {
	Date string `json:"date"`
}

func CollectDailyData() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		var input collectDailyRequest
		_ = c.ShouldBindJSON(&input)

		var date time.Time
		var err error
		if input.Date != "" {
			date, err = utils.ParseDateOnly(input.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
				return
			}
		} else {
			date, err = utils.ConvertToDate(time.Now(), os.Getenv("TIMEZONE"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			// store dates as UTC midnight, matching submitted request dates
			date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		}

		logger := config.GetLogger()
		result, err := workflow.CollectDailyData(c.Request.Context(), logger, userId, date)
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

func ListMyAllocations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		records, err := models.ListAllocationsForUser(c.Request.Context(), userId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"allocations": records})
	}
}

func ListMyPurchases() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		purchases, err := models.ListPurchasesForUser(c.Request.Context(), userId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"purchases": purchases})
	}
}

type paymentSuccessRequest struct {
	PurchaseRequestId int    `json:"purchase_request_id" binding:"required"`
	PaymentId         string `json:"payment_id" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
}

// PaymentSuccess finalizes a buyout. Gated behind the demo-payments flag
// because there is no real payment-provider verification here.
func PaymentSuccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.AllowDemoPayments() {
			c.JSON(http.StatusForbidden, gin.H{"error": "demo payments are disabled"})
			return
		}
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())

		var input paymentSuccessRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		amount, err := decimal.NewFromString(input.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}

		logger := config.GetLogger()
		purchase, err := workflow.CompletePurchase(c.Request.Context(), logger, userId, input.PurchaseRequestId, input.PaymentId, amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, purchase)
	}
}
