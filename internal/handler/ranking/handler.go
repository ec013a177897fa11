package ranking

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/ranking-api/internal/ranking"
	rankingService "github.com/jwalitptl/ranking-api/internal/service/ranking"
	apperrors "github.com/jwalitptl/ranking-api/pkg/errors"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

type Handler struct {
	service *rankingService.Service
	logger  *logger.Logger
}

func NewHandler(service *rankingService.Service, logger *logger.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rankings", h.getRankings)
}

type rankingQuery struct {
	Window   string `form:"window" binding:"required"`
	At       string `form:"at"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20" binding:"max=100"`
}

func (h *Handler) getRankings(c *gin.Context) {
	var query rankingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window, err := ranking.ParseWindow(query.Window)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	at := time.Now()
	if query.At != "" {
		at, err = time.Parse(time.RFC3339, query.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC3339"})
			return
		}
	}

	page, err := h.service.GetPage(c.Request.Context(), window, at, query.Page, query.PageSize)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrBadRequest {
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message})
			return
		}
		h.logger.Error(err, "failed to serve ranking page")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, page)
}
