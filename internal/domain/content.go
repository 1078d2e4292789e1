// Package domain holds the core value types shared by enrichment and all
// sinks: content metadata, raw events off the log, and the enriched events
// produced by the pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentType enumerates the media types the pipeline understands.
type ContentType string

const (
	ContentPodcast    ContentType = "podcast"
	ContentNewsletter ContentType = "newsletter"
	ContentVideo      ContentType = "video"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentPodcast, ContentNewsletter, ContentVideo:
		return true
	default:
		return false
	}
}

// Content is slow-changing metadata for a piece of content, read-only from
// the pipeline's perspective.
type Content struct {
	ID            uuid.UUID
	Slug          string
	Title         string
	ContentType   ContentType
	LengthSeconds *int64
	PublishTS     time.Time
}
