package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hpnt/matreq/internal/imagestore"
	"github.com/hpnt/matreq/internal/request"
)

type statusBody struct {
	Status string `json:"status" binding:"omitempty,mr_status"`
	Vendor string `json:"vendor" binding:"max=255"`
}

type editBody struct {
	ItemName       string `json:"item_name" binding:"required"`
	Quantity       int    `json:"quantity" binding:"gte=1"`
	Specifications string `json:"specifications"`
	Reason         string `json:"reason"`
	Urgency        string `json:"urgency" binding:"omitempty,mr_urgency"`
}

func (h *handlers) updateStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": bindingMessage(err)})
		return
	}
	if err := h.Service.UpdateStatus(c.Request.Context(), id, body.Status, body.Vendor); err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) editFields(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var body editBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": bindingMessage(err)})
		return
	}
	err := h.Service.UpdateFields(c.Request.Context(), id, request.FieldUpdate{
		ItemName:       body.ItemName,
		Quantity:       body.Quantity,
		Specifications: body.Specifications,
		Reason:         body.Reason,
		Urgency:        body.Urgency,
	})
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) uploadImage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "이미지 파일이 없습니다."})
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "파일이 선택되지 않았습니다."})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.jsonError(c, err)
		return
	}
	defer f.Close()

	name, err := h.Service.ReplaceImage(c.Request.Context(), id, f, imagestore.Upload{
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Filename:    fh.Filename,
	})
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": name})
}

func (h *handlers) deleteImage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Service.RemoveImage(c.Request.Context(), id); err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) copyRequest(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	newID, err := h.Service.Copy(c.Request.Context(), id)
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "new_id": newID})
}

func (h *handlers) deleteRequest(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), id); err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) stats(c *gin.Context) {
	counts, err := h.Service.Store.StatusCounts(c.Request.Context())
	if err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status_counts": counts,
		"total":         request.Total(counts),
	})
}
