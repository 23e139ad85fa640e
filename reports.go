package main

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

type orderReportRow struct {
	OrderNumber string
	TableId     int
	Status      models.OrderStatus
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

// ordersReportHandler streams an xlsx export of the tenant's orders within
// the requested date range (default: last 30 days).
func ordersReportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if v := c.Query("from"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
				return
			}
			from = parsed
		}
		if v := c.Query("to"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
				return
			}
			// Inclusive end of day.
			to = parsed.AddDate(0, 0, 1)
		}

		var rows []orderReportRow
		db := config.GetDB()
		err := db.WithContext(ctx).Model(&models.Order{}).
			Select("order_number, table_id, status, total_amount, created_at").
			Where("created_at >= ? AND created_at < ?", from, to).
			Order("created_at ASC").
			Scan(&rows).Error
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "ordersReportHandler",
			}).Error("report query failed: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"
		if _, err := f.NewSheet(sheet); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		// Add headers
		f.SetCellValue(sheet, "A1", "OrderNumber")
		f.SetCellValue(sheet, "B1", "TableId")
		f.SetCellValue(sheet, "C1", "Status")
		f.SetCellValue(sheet, "D1", "TotalAmount")
		f.SetCellValue(sheet, "E1", "CreatedAt")

		// Add data
		for i, r := range rows {
			f.SetCellValue(sheet, "A"+fmt.Sprint(i+2), r.OrderNumber)
			f.SetCellValue(sheet, "B"+fmt.Sprint(i+2), r.TableId)
			f.SetCellValue(sheet, "C"+fmt.Sprint(i+2), string(r.Status))
			f.SetCellValue(sheet, "D"+fmt.Sprint(i+2), r.TotalAmount.InexactFloat64())
			f.SetCellValue(sheet, "E"+fmt.Sprint(i+2), r.CreatedAt.Format(time.RFC3339))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=orders.xlsx")
		if err := f.Write(c.Writer); err != nil {
			logger.WithFields(logrus.Fields{
				"field": "ordersReportHandler",
			}).Error("failed to write xlsx: " + err.Error())
		}
	}
}
