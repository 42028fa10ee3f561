// Package notify tells chat channels about new requests and status changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hpnt/matreq/internal/models"
)

// Event is a chat-neutral notification.
type Event struct {
	Title  string
	Body   string
	Color  string // sidebar color hint, e.g. "#36a64f"
	Fields []Field
}

// Field is a key-value pair shown with an event.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns Nop, the single notifier, or a Multi.
func Combine(ns ...Notifier) Notifier {
	var live Multi
	for _, n := range ns {
		if n != nil {
			live = append(live, n)
		}
	}
	switch len(live) {
	case 0:
		return Nop{}
	case 1:
		return live[0]
	default:
		return live
	}
}

var statusColors = map[string]string{
	models.StatusPending:  "#f2c744",
	models.StatusApproved: "#2eb886",
	models.StatusOrdered:  "#3aa3e3",
	models.StatusReceived: "#36a64f",
	models.StatusRejected: "#e01e5a",
}

var urgencyLabels = map[string]string{
	models.UrgencyLow:    "낮음",
	models.UrgencyNormal: "보통",
	models.UrgencyHigh:   "긴급",
}

// StatusColor returns the sidebar color of a status.
func StatusColor(status string) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return "#808080"
}

// RequestCreated describes a newly submitted request.
func RequestCreated(r *models.MaterialRequest) Event {
	color := StatusColor(models.StatusPending)
	if r.Urgency == models.UrgencyHigh {
		color = statusColors[models.StatusRejected]
	}
	evt := Event{
		Title: fmt.Sprintf("새 자재요청 #%d: %s", r.ID, r.ItemName),
		Body:  r.Reason,
		Color: color,
		Fields: []Field{
			{Name: "수량", Value: strconv.Itoa(r.Quantity), Short: true},
			{Name: "긴급도", Value: urgencyLabel(r.Urgency), Short: true},
		},
	}
	if r.Specifications != "" {
		evt.Fields = append(evt.Fields, Field{Name: "사양", Value: r.Specifications})
	}
	return evt
}

// StatusChanged describes a status move of a request.
func StatusChanged(r *models.MaterialRequest, from string) Event {
	evt := Event{
		Title: fmt.Sprintf("자재요청 #%d %s: %s → %s", r.ID, r.ItemName, from, r.Status),
		Color: StatusColor(r.Status),
		Fields: []Field{
			{Name: "수량", Value: strconv.Itoa(r.Quantity), Short: true},
		},
	}
	if r.Vendor != "" {
		evt.Fields = append(evt.Fields, Field{Name: "업체", Value: r.Vendor, Short: true})
	}
	return evt
}

func urgencyLabel(u string) string {
	if l, ok := urgencyLabels[u]; ok {
		return l
	}
	return u
}
