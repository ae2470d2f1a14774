package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"magnet-stream/internal/repository"
	"magnet-stream/internal/service"
)

// Handler wires HTTP routes to the torrent service. This is the producer
// side of the pipeline: accepted magnets become download_torrent messages.
type Handler struct {
	torrents service.TorrentService
}

func NewHandler(torrents service.TorrentService) *Handler {
	return &Handler{torrents: torrents}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/torrents", h.addTorrent)
		api.GET("/torrents", h.listTorrents)
		api.GET("/torrents/:slug", h.getTorrent)
		api.DELETE("/torrents/:slug", h.deleteTorrent)
		api.POST("/torrents/clear", h.clearAll)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type addTorrentRequest struct {
	Magnet string `json:"magnet" binding:"required"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) addTorrent(c *gin.Context) {
	var req addTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	torrent, err := h.torrents.Add(c.Request.Context(), req.Magnet)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateMagnet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "torrent already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "torrent added successfully", "torrent": torrent})
}

func (h *Handler) listTorrents(c *gin.Context) {
	torrents, err := h.torrents.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"torrents": torrents})
}

func (h *Handler) getTorrent(c *gin.Context) {
	torrent, err := h.torrents.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "torrent not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, torrent)
}

func (h *Handler) deleteTorrent(c *gin.Context) {
	if err := h.torrents.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "torrent not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "torrent deleted successfully"})
}

func (h *Handler) clearAll(c *gin.Context) {
	if err := h.torrents.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "all torrents deleted"})
}
