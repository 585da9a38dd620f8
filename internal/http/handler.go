package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/usecase"
)

// Querier answers point queries over the merged grid.
type Querier interface {
	Variables() []usecase.VariableInfo
	Values(variable string, lat, lon float64, at *time.Time) (*usecase.ValuesResponse, error)
}

// Handler handles HTTP requests for the merged pollution grid.
type Handler struct {
	queryUC Querier
	source  string
}

// NewHandler creates a new HTTP handler. source names the merged file
// being served and is reported by the health check.
func NewHandler(queryUC Querier, source string) *Handler {
	return &Handler{
		queryUC: queryUC,
		source:  source,
	}
}

// GetValues handles GET /v1/values.
func (h *Handler) GetValues(c *gin.Context) {
	variable := c.Query("variable")
	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	timeStr := c.Query("time")

	if variable == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variable parameter is required"})
		return
	}
	if latStr == "" || lonStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon parameters are required"})
		return
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	// time accepts RFC3339 or a YYYY-MM month.
	var at *time.Time
	if timeStr != "" {
		t, err := parseMonth(timeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid time (expected RFC3339 or YYYY-MM): %v", err)})
			return
		}
		at = &t
	}

	response, err := h.queryUC.Values(variable, lat, lon, at)
	switch {
	case errors.Is(err, domain.ErrVariableNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, usecase.ErrOutsideGrid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetVariables handles GET /v1/variables.
func (h *Handler) GetVariables(c *gin.Context) {
	vars := h.queryUC.Variables()
	c.JSON(http.StatusOK, gin.H{
		"variables": vars,
		"count":     len(vars),
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"source": h.source,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func parseMonth(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01", s)
}
