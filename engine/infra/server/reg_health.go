package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func registerHealthRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data":    gin.H{"status": "ok"},
			"message": "Success",
		})
	})
}
