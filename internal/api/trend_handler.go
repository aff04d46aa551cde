package api

import (
	"net/http"
	"strconv"
	"time"

	"TrendRadar/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TrendHandler 提供给运营侧的只读查询接口
type TrendHandler struct {
	entityRepo repository.EntityRepository
	scoreRepo  repository.ScoreRepository
	trendRepo  repository.TrendRepository
	healthRepo repository.HealthRepository
	logger     *logrus.Logger
}

// NewTrendHandler 创建 TrendHandler
func NewTrendHandler(db *gorm.DB, logger *logrus.Logger) *TrendHandler {
	return &TrendHandler{
		entityRepo: repository.NewEntityRepository(db),
		scoreRepo:  repository.NewScoreRepository(db),
		trendRepo:  repository.NewTrendRepository(db),
		healthRepo: repository.NewHealthRepository(db),
		logger:     logger,
	}
}

// ListEntities 实体列表接口
// GET /api/entities?active=true&page=1&page_size=20
func (h *TrendHandler) ListEntities(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") == "true"
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.entityRepo.List(c.Request.Context(), activeOnly, page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("ListEntities failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"list":      list,
	})
}

// GetEntityScores 单实体分数历史
// GET /api/entities/:id/scores?hours=24
func (h *TrendHandler) GetEntityScores(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id必须是数字"})
		return
	}
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if hours <= 0 || hours > 24*30 {
		hours = 24
	}

	entity, err := h.entityRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "实体不存在"})
		return
	}

	from := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	scores, err := h.scoreRepo.ListByEntity(c.Request.Context(), id, from)
	if err != nil {
		h.logger.WithError(err).Error("GetEntityScores failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity": entity,
		"scores": scores,
	})
}

// ListAlerts 最近告警列表
// GET /api/alerts?limit=50
func (h *TrendHandler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, err := h.trendRepo.ListAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("ListAlerts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"list": alerts})
}

// SourcesHealth 信号源健康与熔断状态
// GET /api/sources/health
func (h *TrendHandler) SourcesHealth(c *gin.Context) {
	list, err := h.healthRepo.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("SourcesHealth failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	type sourceStatus struct {
		Source            string     `json:"source"`
		LastOK            *time.Time `json:"last_ok"`
		LastError         *time.Time `json:"last_error"`
		LastAttempt       *time.Time `json:"last_attempt"`
		ConsecutiveErrors int        `json:"consecutive_errors"`
		CircuitOpen       bool       `json:"circuit_open"`
		CircuitOpenUntil  *time.Time `json:"circuit_open_until"`
	}
	result := make([]sourceStatus, 0, len(list))
	for _, hlt := range list {
		result = append(result, sourceStatus{
			Source:            hlt.Source,
			LastOK:            hlt.LastOK,
			LastError:         hlt.LastError,
			LastAttempt:       hlt.LastAttempt,
			ConsecutiveErrors: hlt.ConsecutiveErrors,
			CircuitOpen:       hlt.CircuitOpenUntil != nil && now.Before(*hlt.CircuitOpenUntil),
			CircuitOpenUntil:  hlt.CircuitOpenUntil,
		})
	}

	c.JSON(http.StatusOK, gin.H{"list": result})
}
