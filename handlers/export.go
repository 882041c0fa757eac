package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketing-analytics/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportCSV downloads the filtered rows in the store's own CSV layout.
func (h *ClientHandler) ExportCSV(c *gin.Context) {
	h.export(c, "csv", "text/csv; charset=utf-8", models.WriteCSV)
}

// ExportXLSX downloads the filtered rows as a workbook.
func (h *ClientHandler) ExportXLSX(c *gin.Context) {
	h.export(c, "xlsx", xlsxContentType, models.WriteXLSX)
}

func (h *ClientHandler) export(c *gin.Context, ext, contentType string, write func(io.Writer, []models.Visit) error) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	visits, err := h.ledger.Filtered(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	// буферизуем, чтобы при ошибке ещё можно было ответить 500
	var buf bytes.Buffer
	if err := write(&buf, visits); err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("visits_%s.%s", time.Now().Format("20060102_150405"), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
