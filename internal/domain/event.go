package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate is a single shared validator instance, the same package-level
// reuse the teacher's handlers package relies on (constructing a new
// validator per call is unnecessary and not what ValidateStruct does).
var validate = validator.New()

// EventType enumerates the raw interaction events the log carries.
type EventType string

const (
	EventPlay   EventType = "play"
	EventPause  EventType = "pause"
	EventFinish EventType = "finish"
	EventClick  EventType = "click"
)

// UnmarshalJSON rejects unknown event types at decode time rather than
// deferring validation to a separate pass.
func (e *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch EventType(s) {
	case EventPlay, EventPause, EventFinish, EventClick:
		*e = EventType(s)
		return nil
	default:
		return fmt.Errorf("domain: unknown event_type %q", s)
	}
}

func (e EventType) requiresDuration() bool {
	return e == EventPlay || e == EventPause || e == EventFinish
}

// RawEvent is a single row read off the engagement-events log.
type RawEvent struct {
	ID         int64             `json:"id" validate:"required"`
	ContentID  uuid.UUID         `json:"content_id" validate:"required"`
	UserID     uuid.UUID         `json:"user_id" validate:"required"`
	EventType  EventType         `json:"event_type" validate:"required"`
	EventTS    time.Time         `json:"event_ts" validate:"required"`
	DurationMs *int64            `json:"duration_ms,omitempty" validate:"omitempty,gte=0"`
	Device     *string           `json:"device,omitempty"`
	RawPayload map[string]string `json:"raw_payload,omitempty"`
}

// Validate runs the struct-tag validation (required fields, non-negative
// duration_ms) and then the conditional duration_ms rule the tags alone
// can't express: it is required for play/pause/finish and optional for
// click.
func (r RawEvent) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	if !r.EventType.requiresDuration() {
		return nil
	}
	if r.DurationMs == nil {
		return fmt.Errorf("domain: duration_ms is required for event_type %q", r.EventType)
	}
	return nil
}
