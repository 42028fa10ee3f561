package web

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlers carries the dependencies shared by every route.
type handlers struct {
	Opts
}

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	app := router.Group("/", h.ensureSchema())

	// Pages.
	app.GET("/", h.home)
	app.GET("/requests", h.requestList)
	app.GET("/add", h.addForm)
	app.POST("/add", h.addSubmit)

	// Files.
	app.GET("/images/:filename", h.serveImage)
	app.GET("/thumbs/:filename", h.serveThumbnail)

	admin := app.Group("/admin")
	admin.POST("/update/:id", h.updateStatus)
	admin.POST("/edit/:id", h.editFields)
	admin.POST("/image/:id", h.uploadImage)
	admin.DELETE("/image/:id", h.deleteImage)
	admin.POST("/copy/:id", h.copyRequest)
	admin.DELETE("/delete/:id", h.deleteRequest)
	admin.GET("/backup", h.downloadBackup)
	admin.POST("/restore", h.restoreBackup)
	admin.GET("/export.xlsx", h.exportExcel)
	admin.GET("/images.zip", h.downloadImages)

	api := app.Group("/api", apiCORS())
	api.GET("/stats", h.stats)
	api.OPTIONS("/stats", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}
