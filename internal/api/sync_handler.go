package api

import (
	"errors"
	"fmt"
	"net/http"

	"TrendRadar/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SyncHandler struct {
	syncService *service.SyncService
	logger      *logrus.Logger
}

func NewSyncHandler(syncService *service.SyncService, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RunCycleHandler 立即执行一个完整采集周期
// @Summary 手动触发采集周期
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /sync/cycle [post]
func (h *SyncHandler) RunCycleHandler(c *gin.Context) {
	if err := h.syncService.RunCycle(c.Request.Context()); err != nil {
		h.logger.Errorf("手动周期执行失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "采集周期执行成功",
	})
}

// FetchSourceHandler 立即抓取指定信号源
// @Summary 手动抓取单个信号源
// @Param source path string true "信号源名称（reddit/trends/wikipedia/gdelt/tradepress）"
// @Param force query string false "force=1跳过节奏判断（熔断仍然生效）"
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /sync/source/{source} [post]
func (h *SyncHandler) FetchSourceHandler(c *gin.Context) {
	source := c.Param("source")
	force := c.Query("force") == "1"

	err := h.syncService.FetchSource(c.Request.Context(), source, force)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("%s抓取成功", source),
		})
	case errors.Is(err, service.ErrSourceDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSourceNotDue):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSourceOnCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("抓取%s失败: %v", source, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
