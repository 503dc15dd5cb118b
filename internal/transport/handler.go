package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	"github.com/anime-shed/image-classifier-go/internal/config"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/service"
	"github.com/anime-shed/image-classifier-go/pkg/models"
	"github.com/anime-shed/image-classifier-go/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 20

func NewHandler(svc service.PredictionService, cfg *config.Config) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestLogger(),
		cors(cfg.CORSAllowOrigin),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	uploads := validation.NewUploadValidator(cfg.MaxRequestBodySize)

	r.POST("/predict", predict(svc, uploads, cfg))
	r.GET("/health", healthCheck(svc))
	r.GET("/history", listHistory(svc))
	r.GET("/stats", stats(svc))

	return r
}

func predict(svc service.PredictionService, uploads *validation.UploadValidator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		fh, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(c, apperrors.NewInvalidInputError(
					fmt.Sprintf("Request body too large (limit %d bytes)", maxErr.Limit), err))
				return
			}
			respondError(c, apperrors.NewInvalidInputError("No image provided", err))
			return
		}

		data, info, err := uploads.ReadUpload(fh)
		if err != nil {
			respondError(c, err)
			return
		}

		model := c.DefaultPostForm("model", classifier.DefaultModel.String())

		logger.WithFields(logrus.Fields{
			"model":        model,
			"filename":     info.Filename,
			"size":         info.Size,
			"content_type": info.ContentType,
		}).Debug("Received prediction request")

		resp, err := svc.Predict(ctx, service.PredictRequest{Model: model, Image: data})
		if err != nil {
			respondError(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"model":            resp.Model,
			"output":           resp.Output,
			"confidence":       resp.Confidence,
			"latency_ms":       resp.Latency,
			"total_latency_ms": resp.TotalLatency,
		}).Info("Prediction completed successfully")

		c.JSON(http.StatusOK, resp)
	}
}

func healthCheck(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       "healthy",
			ModelsLoaded: svc.LoadedModels(),
		})
	}
}

func listHistory(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respondError(c, apperrors.NewInvalidInputError(fmt.Sprintf("Invalid limit: %s", raw), err))
				return
			}
			limit = n
		}

		entries, err := svc.History(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.HistoryResponse{Entries: entries})
	}
}

func stats(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Stats())
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}).Info("Request handled")
	}
}

func cors(allowOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allowOrigin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func respondError(c *gin.Context, err error) {
	code := apperrors.GetStatusCode(err)

	resp := models.ErrorResponse{Error: apperrors.PublicMessage(err)}
	if appErr, ok := apperrors.As(err); ok {
		resp.Suggestion = appErr.Details
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, resp)
}
