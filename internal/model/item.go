package model

import "time"

// ContentItem is a unit of ingested social-media content. Items are written
// by ingestion and are read-only to the pipeline.
type ContentItem struct {
	ID             string         `json:"id" yaml:"id"`
	Platform       string         `json:"platform" yaml:"platform" validate:"required"`
	PlatformItemID string         `json:"platform_item_id" yaml:"platform_item_id" validate:"required"`
	Text           string         `json:"text" yaml:"text"`
	Payload        map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Author         string         `json:"author,omitempty" yaml:"author,omitempty"`
	URL            string         `json:"url,omitempty" yaml:"url,omitempty"`
	PostedAt       *time.Time     `json:"posted_at,omitempty" yaml:"posted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
}

// Ref returns the platform-qualified reference used by external services.
func (c ContentItem) Ref() string {
	return c.Platform + ":" + c.PlatformItemID
}
