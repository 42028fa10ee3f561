package web

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/hpnt/matreq/internal/models"
)

var validatorsOnce sync.Once

// registerValidators adds the mr_status and mr_urgency tags to gin's
// validator and reports fields by their json names.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		v.RegisterValidation("mr_status", func(fl validator.FieldLevel) bool {
			return models.IsStatus(fl.Field().String())
		})
		v.RegisterValidation("mr_urgency", func(fl validator.FieldLevel) bool {
			return models.IsUrgency(fl.Field().String())
		})
	})
}

// bindingMessage turns a binding failure into a user-facing message.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "요청 형식이 올바르지 않습니다."
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, " ")
}

func fieldMessage(fe validator.FieldError) string {
	switch {
	case fe.Field() == "item_name" && fe.Tag() == "required":
		return "자재명은 필수 입력 항목입니다."
	case fe.Field() == "quantity":
		return "수량은 1 이상이어야 합니다."
	case fe.Tag() == "mr_status":
		return fmt.Sprintf("알 수 없는 상태입니다: %v", fe.Value())
	case fe.Tag() == "mr_urgency":
		return fmt.Sprintf("알 수 없는 긴급도입니다: %v", fe.Value())
	default:
		return fmt.Sprintf("%s: %s", fe.Field(), fe.Tag())
	}
}
