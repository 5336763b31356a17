package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorsAs(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", fmt.Errorf("wrap: %w", Validation("amount", "must be positive")), func(err error) bool {
			var v *ValidationError
			return errors.As(err, &v) && v.Field == "amount"
		}},
		{"not found", fmt.Errorf("wrap: %w", NotFound("debt", 7)), func(err error) bool {
			var n *NotFoundError
			return errors.As(err, &n) && n.ID == 7
		}},
		{"state", &StateError{State: "idle", Msg: "context not found"}, func(err error) bool {
			var s *StateError
			return errors.As(err, &s)
		}},
		{"external keeps cause", External("extractor", context.DeadlineExceeded), func(err error) bool {
			var x *ExternalServiceError
			return errors.As(err, &x) && errors.Is(err, context.DeadlineExceeded)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("unexpected error shape: %v", tt.err)
			}
		})
	}
}

func TestExternalNil(t *testing.T) {
	if err := External("transcriber", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	if got := Validation("amount", "got %s", "-5").Error(); got != "invalid amount: got -5" {
		t.Errorf("unexpected message %q", got)
	}
	if got := NotFound("payment", 3).Error(); got != "payment 3 not found" {
		t.Errorf("unexpected message %q", got)
	}
}
