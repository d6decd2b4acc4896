package handler

import (
	"errors"
	"net/http"

	"github.com/emilythestrangee/algaerithm/config"
	"github.com/emilythestrangee/algaerithm/model"
	"github.com/emilythestrangee/algaerithm/service"
	"github.com/emilythestrangee/algaerithm/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgNoImage        = "No image provided"
	msgNoSelectedFile = "No selected file"
	msgFileTooLarge   = "File too large"
	msgNotFound       = "Result not found"
	msgCacheDisabled  = "Cache disabled"
)

type DetectHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	detector     *service.AlgaeDetector
}

// NewDetectHandler redis 为 nil 时不使用缓存
func NewDetectHandler(cfg *config.Config, redis *service.RedisService, detector *service.AlgaeDetector) *DetectHandler {
	return &DetectHandler{
		cfg:          cfg,
		redisService: redis,
		detector:     detector,
	}
}

// Detect 处理藻类检测请求
func (h *DetectHandler) Detect(c *gin.Context) {
	file, err := h.readUpload(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, errNoImage):
			utils.Logger.Debug("no image in request", zap.Error(err))
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: msgNoImage})
		case errors.Is(err, errNoSelectedFile):
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: msgNoSelectedFile})
		case errors.Is(err, errFileTooLarge):
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: msgFileTooLarge})
		default:
			utils.Logger.Error("failed to read uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		}
		return
	}
	data := file.data

	md5 := utils.BytesMD5(data)
	utils.Logger.Info("file uploaded",
		zap.String("filename", file.filename),
		zap.String("md5", md5),
		zap.Int("size", len(data)))

	ctx := c.Request.Context()
	key := h.cacheKey(md5)

	// 检查缓存
	if h.redisService != nil {
		cached, err := h.redisService.GetDetectionResult(ctx, key)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("md5", md5))
			c.JSON(http.StatusOK, model.NewDetectResponse(cached))
			return
		}
	}

	result, err := h.detector.Detect(md5, data)
	if err != nil {
		utils.Logger.Error("failed to process image", zap.String("md5", md5), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	// 保存到缓存
	if h.redisService != nil {
		if err := h.redisService.SetDetectionResult(ctx, key, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.NewDetectResponse(result))
}

// GetByMD5 根据MD5获取已缓存的检测结果
func (h *DetectHandler) GetByMD5(c *gin.Context) {
	if h.redisService == nil {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: msgCacheDisabled})
		return
	}

	key := h.cacheKey(c.Param("md5"))
	result, err := h.redisService.GetDetectionResult(c.Request.Context(), key)
	if err != nil {
		utils.Logger.Error("failed to get detection result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: msgNotFound})
		return
	}

	c.JSON(http.StatusOK, model.NewDetectResponse(result))
}
