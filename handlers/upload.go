package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"bitbucket.org/mmdatafocus/datamart_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type uploadDataRequest struct {
	Category     string            `json:"category" binding:"required"`
	DeliveryDate string            `json:"delivery_date"`
	Rows         []json.RawMessage `json:"rows" binding:"required,min=1"`
}

func insertUploadedRows(c *gin.Context, categoryInput string, deliveryDateInput string, rows []json.RawMessage) ([]models.DataItem, error) {
	ctx := c.Request.Context()
	category, err := models.ResolveCategory(ctx, categoryInput)
	if err != nil {
		return nil, errors.New("unknown category: " + categoryInput)
	}

	var deliveryDate *time.Time
	if deliveryDateInput != "" {
		d, err := utils.ParseDateOnly(deliveryDateInput)
		if err != nil {
			return nil, errors.New("invalid delivery_date, expected YYYY-MM-DD")
		}
		deliveryDate = &d
	}

	db := config.GetDB()
	var items []models.DataItem
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		items, err = models.BulkInsertDataItems(tx, category.Name, rows, deliveryDate)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	logger.WithFields(logrus.Fields{
		"category": category.Name,
		"rows":     len(items),
	}).Info("upload.rows")
	return items, nil
}

// UploadDailyData ingests inventory rows posted as JSON.
func UploadDailyData() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input uploadDataRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category and rows are required"})
			return
		}
		items, err := insertUploadedRows(c, input.Category, input.DeliveryDate, input.Rows)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"inserted":    len(items),
			"first_index": items[0].RowIndex,
			"last_index":  items[len(items)-1].RowIndex,
		})
	}
}

// UploadDailyDataXlsx ingests inventory rows from a spreadsheet. The first
// row is treated as the header; each data row becomes one metadata object.
func UploadDailyDataXlsx() gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if !strings.HasSuffix(fileHeader.Filename, ".xlsx") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type: only .xlsx files are allowed"})
			return
		}
		category := c.PostForm("category")
		if category == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open file"})
			return
		}
		defer file.Close()

		f, err := excelize.OpenReader(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open Excel file: " + err.Error()})
			return
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workbook has no sheets"})
			return
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(rows) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sheet needs a header row and at least one data row"})
			return
		}

		header := rows[0]
		payloads := make([]json.RawMessage, 0, len(rows)-1)
		for _, row := range rows[1:] {
			record := map[string]string{}
			empty := true
			for i, cell := range row {
				if i >= len(header) || header[i] == "" {
					continue
				}
				record[header[i]] = cell
				if strings.TrimSpace(cell) != "" {
					empty = false
				}
			}
			if empty {
				continue
			}
			b, err := json.Marshal(record)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			payloads = append(payloads, b)
		}
		if len(payloads) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no data rows found"})
			return
		}

		items, err := insertUploadedRows(c, category, c.PostForm("delivery_date"), payloads)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"inserted":    len(items),
			"first_index": items[0].RowIndex,
			"last_index":  items[len(items)-1].RowIndex,
		})
	}
}

// ExportDailyRequirements streams the weekly ledger as .xlsx.
func ExportDailyRequirements() gin.HandlerFunc {
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

		f := excelize.NewFile()
		defer f.Close()
		if _, err := f.NewSheet("Sheet1"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Add headers
		f.SetCellValue("Sheet1", "A1", "Category")
		for i, day := range models.BusinessDays {
			cell, _ := excelize.CoordinatesToCellName(i+2, 1)
			name := string(day)
			f.SetCellValue("Sheet1", cell, strings.ToUpper(name[:1])+name[1:])
		}
		totalCell, _ := excelize.CoordinatesToCellName(len(models.BusinessDays)+2, 1)
		f.SetCellValue("Sheet1", totalCell, "Total")

		// Add data
		for rowNo, row := range report.Categories {
			f.SetCellValue("Sheet1", "A"+fmt.Sprint(rowNo+2), row.Category)
			byDay := map[string]int{}
			for _, cell := range row.Days {
				byDay[cell.Day] += cell.Quantity
			}
			for i, day := range models.BusinessDays {
				cell, _ := excelize.CoordinatesToCellName(i+2, rowNo+2)
				f.SetCellValue("Sheet1", cell, byDay[string(day)])
			}
			cell, _ := excelize.CoordinatesToCellName(len(models.BusinessDays)+2, rowNo+2)
			f.SetCellValue("Sheet1", cell, row.Total)
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=daily-requirements.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}
