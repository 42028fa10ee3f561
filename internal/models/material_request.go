package models

import "time"

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusOrdered  = "ordered"
	StatusReceived = "received"
	StatusRejected = "rejected"
)

// Urgency levels.
const (
	UrgencyLow    = "low"
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

// Statuses lists every request status in display order.
var Statuses = []string{StatusPending, StatusApproved, StatusOrdered, StatusReceived, StatusRejected}

// Urgencies lists every urgency level, lowest first.
var Urgencies = []string{UrgencyLow, UrgencyNormal, UrgencyHigh}

// DateLayout is the format of RequestDate.
const DateLayout = "2006-01-02"

// MaterialRequest is a request for a physical material.
type MaterialRequest struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemName       string    `gorm:"size:255;not null" json:"item_name"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	Specifications string    `gorm:"type:text" json:"specifications"`
	Reason         string    `gorm:"type:text" json:"reason"`
	Urgency        string    `gorm:"size:20;default:normal" json:"urgency"`
	RequestDate    string    `gorm:"size:10;index" json:"request_date"`
	Vendor         string    `gorm:"size:255" json:"vendor"`
	Status         string    `gorm:"size:20;default:pending;index" json:"status"`
	Images         *string   `gorm:"size:255" json:"images"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName pins the table name shared with existing deployments.
func (MaterialRequest) TableName() string {
	return "material_requests"
}

// ImageName returns the attached image filename, or "" when there is none.
func (m *MaterialRequest) ImageName() string {
	if m.Images == nil {
		return ""
	}
	return *m.Images
}

// IsStatus reports whether s is a known status.
func IsStatus(s string) bool {
	return contains(Statuses, s)
}

// IsUrgency reports whether u is a known urgency level.
func IsUrgency(u string) bool {
	return contains(Urgencies, u)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
