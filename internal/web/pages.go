package web

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hpnt/matreq/internal/models"
	"github.com/hpnt/matreq/internal/request"
	"github.com/hpnt/matreq/internal/service"
)

var statusLabels = map[string]string{
	models.StatusPending:  "대기중",
	models.StatusApproved: "승인됨",
	models.StatusOrdered:  "발주완료",
	models.StatusReceived: "입고완료",
	models.StatusRejected: "반려됨",
}

var urgencyLabels = map[string]string{
	models.UrgencyLow:    "낮음",
	models.UrgencyNormal: "보통",
	models.UrgencyHigh:   "높음",
}

var templateFuncs = template.FuncMap{
	"statusLabel":  func(s string) string { return label(statusLabels, s) },
	"urgencyLabel": func(u string) string { return label(urgencyLabels, u) },
	"imageName": func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	},
	"statuses":  func() []string { return models.Statuses },
	"urgencies": func() []string { return models.Urgencies },
}

func label(m map[string]string, k string) string {
	if v, ok := m[k]; ok {
		return v
	}
	return k
}

func (h *handlers) home(c *gin.Context) {
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"page":        "home",
		"environment": strings.ToUpper(h.Environment),
		"storage":     h.Storage,
		"imagesDir":   h.Service.Images.Dir,
		"version":     h.Version,
	})
}

func (h *handlers) requestList(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.DefaultQuery("status", "all")
	search := c.Query("search")

	counts, err := h.Service.Store.StatusCounts(ctx)
	if err != nil {
		h.errorPage(c, err)
		return
	}
	rows, err := h.Service.Store.List(ctx, request.ListFilters{Status: status, Search: search})
	if err != nil {
		h.errorPage(c, err)
		return
	}

	c.HTML(http.StatusOK, "layout.html", gin.H{
		"page":     "requests",
		"requests": rows,
		"status":   status,
		"search":   search,
		"counts":   counts,
		"total":    request.Total(counts),
	})
}

// addFormData is the /add form. Quantity stays a string so a non-numeric
// value can be reported and echoed back.
type addFormData struct {
	ItemName       string `form:"item_name"`
	Specifications string `form:"specifications"`
	Quantity       string `form:"quantity"`
	Urgency        string `form:"urgency"`
	Reason         string `form:"reason"`
	Vendor         string `form:"vendor"`
	ImageData      string `form:"image_data"`
}

func (h *handlers) addForm(c *gin.Context) {
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"page": "add",
		"form": addFormData{Quantity: "1", Urgency: models.UrgencyNormal},
	})
}

func (h *handlers) addSubmit(c *gin.Context) {
	var form addFormData
	if err := c.ShouldBind(&form); err != nil {
		h.renderAddError(c, form, "요청 형식이 올바르지 않습니다.")
		return
	}
	form.ItemName = strings.TrimSpace(form.ItemName)

	if form.ItemName == "" {
		h.renderAddError(c, form, "자재명은 필수 입력 항목입니다.")
		return
	}
	// A missing field means 1; a blank one is not a number.
	qty := 1
	if _, sent := c.GetPostForm("quantity"); sent {
		n, err := strconv.Atoi(strings.TrimSpace(form.Quantity))
		if err != nil {
			h.renderAddError(c, form, "수량은 숫자로 입력해주세요.")
			return
		}
		qty = n
	}

	_, err := h.Service.Create(c.Request.Context(), service.CreateInput{
		ItemName:       form.ItemName,
		Quantity:       qty,
		Specifications: strings.TrimSpace(form.Specifications),
		Reason:         strings.TrimSpace(form.Reason),
		Urgency:        form.Urgency,
		Vendor:         strings.TrimSpace(form.Vendor),
		ImageData:      strings.TrimSpace(form.ImageData),
	})
	if err != nil {
		var verr *request.ValidationError
		if errors.As(err, &verr) {
			h.renderAddError(c, form, addErrorMessage(verr))
			return
		}
		h.Log.WithError(err).Error("create request failed")
		h.renderAddError(c, form, "등록 중 오류가 발생했습니다.")
		return
	}
	c.Redirect(http.StatusSeeOther, "/requests")
}

func addErrorMessage(verr *request.ValidationError) string {
	switch verr.Field {
	case "item_name":
		return "자재명은 필수 입력 항목입니다."
	case "quantity":
		return "수량은 1 이상이어야 합니다."
	default:
		return verr.Message
	}
}

func (h *handlers) renderAddError(c *gin.Context, form addFormData, msg string) {
	// The photo is not echoed back; the browser keeps its own preview.
	form.ImageData = ""
	c.HTML(http.StatusBadRequest, "layout.html", gin.H{
		"page":  "add",
		"form":  form,
		"error": msg,
	})
}

// errorPage renders a storage failure as HTML.
func (h *handlers) errorPage(c *gin.Context, err error) {
	c.Error(err)
	h.Log.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("page failed")
	c.HTML(http.StatusInternalServerError, "layout.html", gin.H{
		"page":    "error",
		"message": "목록을 불러올 수 없습니다.",
	})
}
