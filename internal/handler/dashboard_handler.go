package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/service"
)

// DashboardReader builds the per-exam dashboard.
type DashboardReader interface {
	ExamDashboard(ctx context.Context, examID uuid.UUID) (*service.ExamDashboard, error)
}

// DashboardHandler handles exam dashboard endpoints.
type DashboardHandler struct {
	dashboard DashboardReader
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboard DashboardReader) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// GetExamDashboard godoc
// GET /api/v1/exams/:exam_id/dashboard
// Returns attempt status and trigger distribution, score spread and item analysis.
func (h *DashboardHandler) GetExamDashboard(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	data, err := h.dashboard.ExamDashboard(c.Request.Context(), examID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"dashboard": data})
}
