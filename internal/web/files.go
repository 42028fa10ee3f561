package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpnt/matreq/internal/backup"
	"github.com/hpnt/matreq/internal/imagestore"
	"github.com/hpnt/matreq/internal/request"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxBackupSize   = 32 << 20
)

func (h *handlers) serveImage(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	p, err := h.Service.Images.Path(c.Param("filename"))
	if err != nil || !h.Service.Images.Exists(c.Param("filename")) {
		c.String(http.StatusNotFound, "Image not found")
		return
	}
	c.File(p)
}

// serveThumbnail falls back to the original file when it cannot be decoded.
func (h *handlers) serveThumbnail(c *gin.Context) {
	name := c.Param("filename")
	c.Header("X-Content-Type-Options", "nosniff")
	if !h.Service.Images.Exists(name) {
		c.String(http.StatusNotFound, "Image not found")
		return
	}
	data, err := h.Service.Images.Thumbnail(name, imagestore.ThumbnailWidth)
	if err != nil {
		h.Log.WithError(err).WithField("file", name).Debug("thumbnail unavailable, serving original")
		h.serveImage(c)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *handlers) downloadBackup(c *gin.Context) {
	snap, err := backup.Create(c.Request.Context(), h.DB)
	if err != nil {
		h.jsonError(c, err)
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		h.jsonError(c, err)
		return
	}
	attachment(c, backup.FileName(time.Now()))
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *handlers) restoreBackup(c *gin.Context) {
	fh, err := c.FormFile("backup")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "백업 파일이 없습니다."})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.jsonError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBackupSize+1))
	if err != nil {
		h.jsonError(c, err)
		return
	}
	if len(data) > maxBackupSize {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "백업 파일이 너무 큽니다."})
		return
	}
	snap, err := backup.Parse(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	n, err := h.Service.Restore(c.Request.Context(), snap)
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "restored": n})
}

func (h *handlers) exportExcel(c *gin.Context) {
	rows, err := h.Service.Store.List(c.Request.Context(), request.ListFilters{})
	if err != nil {
		h.jsonError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := backup.WriteExcel(&buf, rows); err != nil {
		h.jsonError(c, err)
		return
	}
	attachment(c, fmt.Sprintf("material_requests_%s.xlsx", time.Now().Format("20060102_150405")))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *handlers) downloadImages(c *gin.Context) {
	var buf bytes.Buffer
	n, err := h.Service.Images.WriteArchive(&buf)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "이미지 폴더가 없습니다."})
			return
		}
		h.jsonError(c, err)
		return
	}
	h.Log.WithField("files", n).Info("image archive built")
	attachment(c, fmt.Sprintf("images_%s.zip", time.Now().Format("20060102_150405")))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func attachment(c *gin.Context, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
}
