package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hpnt/matreq/internal/models"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("b down")}
	c := &recorder{err: errors.New("c down")}

	err := Multi{a, b, c}.Notify(context.Background(), Event{Title: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "b down") || !strings.Contains(err.Error(), "c down") {
		t.Errorf("error = %q, want both failures", err.Error())
	}
	for i, r := range []*recorder{a, b, c} {
		if len(r.events) != 1 {
			t.Errorf("notifier %d got %d events, want 1", i, len(r.events))
		}
	}
}

func TestCombine(t *testing.T) {
	if _, ok := Combine().(Nop); !ok {
		t.Error("Combine() should be Nop")
	}
	if _, ok := Combine(nil, nil).(Nop); !ok {
		t.Error("Combine(nil, nil) should be Nop")
	}
	r := &recorder{}
	if got := Combine(nil, r); got != Notifier(r) {
		t.Errorf("Combine(nil, r) = %#v, want r", got)
	}
	if _, ok := Combine(r, &recorder{}).(Multi); !ok {
		t.Error("Combine of two should be Multi")
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), Event{}); err != nil {
		t.Errorf("Nop.Notify = %v", err)
	}
}

func TestRequestCreated(t *testing.T) {
	r := &models.MaterialRequest{
		ID: 4, ItemName: "안전모", Quantity: 15, Urgency: models.UrgencyHigh,
		Specifications: "흰색", Reason: "현장 안전 강화",
	}
	evt := RequestCreated(r)
	if !strings.Contains(evt.Title, "#4") || !strings.Contains(evt.Title, "안전모") {
		t.Errorf("Title = %q", evt.Title)
	}
	if evt.Body != "현장 안전 강화" {
		t.Errorf("Body = %q", evt.Body)
	}
	if evt.Color != statusColors[models.StatusRejected] {
		t.Errorf("high urgency color = %q", evt.Color)
	}
	if len(evt.Fields) != 3 || evt.Fields[0].Value != "15" || evt.Fields[1].Value != "긴급" {
		t.Errorf("Fields = %+v", evt.Fields)
	}
}

func TestStatusChanged(t *testing.T) {
	r := &models.MaterialRequest{ID: 2, ItemName: "전선", Quantity: 5, Status: models.StatusOrdered, Vendor: "전기재료공급"}
	evt := StatusChanged(r, models.StatusApproved)
	if !strings.Contains(evt.Title, "approved → ordered") {
		t.Errorf("Title = %q", evt.Title)
	}
	if evt.Color != StatusColor(models.StatusOrdered) {
		t.Errorf("Color = %q", evt.Color)
	}
	if len(evt.Fields) != 2 || evt.Fields[1].Value != "전기재료공급" {
		t.Errorf("Fields = %+v", evt.Fields)
	}
}

func TestStatusColor_Unknown(t *testing.T) {
	if StatusColor("lost") != "#808080" {
		t.Errorf("StatusColor(lost) = %q", StatusColor("lost"))
	}
}
