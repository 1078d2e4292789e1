package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors describing why an enrichment failed. ErrStoreUnavailable
// is fatal to the current batch; the Drop* values are not errors at all —
// they are returned as a DropReason alongside a nil error.
var (
	ErrStoreUnavailable = errors.New("domain: content store unavailable")
)

// DropReason explains why an event never became an EnrichedEvent.
type DropReason string

const (
	DropNone    DropReason = ""
	DropInvalid DropReason = "invalid"
	DropOrphan  DropReason = "orphan"
)

// EnrichedEvent is a RawEvent joined with Content metadata plus the derived
// engagement fields. Enrich is the only function that derives the
// engagement fields; the fields are exported, so a composite literal can
// still set them independently of each other.
type EnrichedEvent struct {
	RawEvent

	Slug          string
	Title         string
	ContentType   ContentType
	LengthSeconds *int64

	EngagementSeconds *decimal.Decimal
	EngagementPct     *decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Enrich joins a validated RawEvent with its Content row and computes the
// derived engagement fields. Callers are expected to have already resolved
// Content for raw.ContentID; Enrich itself performs no I/O.
func Enrich(raw RawEvent, content Content) (EnrichedEvent, error) {
	if content.ID != raw.ContentID {
		return EnrichedEvent{}, fmt.Errorf("domain: content id mismatch: event wants %s, got %s", raw.ContentID, content.ID)
	}

	ev := EnrichedEvent{
		RawEvent:      raw,
		Slug:          content.Slug,
		Title:         content.Title,
		ContentType:   content.ContentType,
		LengthSeconds: content.LengthSeconds,
	}

	if raw.DurationMs != nil {
		seconds := decimal.NewFromInt(*raw.DurationMs).DivRound(decimal.NewFromInt(1000), 2)
		ev.EngagementSeconds = &seconds

		if content.LengthSeconds != nil && *content.LengthSeconds > 0 {
			length := decimal.NewFromInt(*content.LengthSeconds)
			pct := seconds.Div(length).Mul(hundred).Round(2)
			ev.EngagementPct = &pct
		}
	}

	return ev, nil
}

// ProcessedAt stamps the time a warehouse record is considered inserted;
// kept as a function (not time.Now() inline) so sinks and tests share one
// notion of "now".
func ProcessedAt() time.Time {
	return time.Now().UTC()
}

// ContentIDString and UserIDString exist so sinks never have to remember
// that identifiers are serialised as strings at every external boundary.
func (e EnrichedEvent) ContentIDString() string { return e.ContentID.String() }
func (e EnrichedEvent) UserIDString() string    { return e.UserID.String() }
