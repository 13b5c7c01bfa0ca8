package models

import "time"

// SharedOwner marks content that any account may fall back to.
const SharedOwner = "*"

type ContentItem struct {
	ID             string    `json:"id"`
	OwnerAccountID string    `json:"owner_account_id"`
	BodyText       string    `json:"body_text"`
	MediaRefs      []string  `json:"media_refs,omitempty"`
	UseMedia       bool      `json:"use_media"`
	UsageCount     int       `json:"usage_count"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c ContentItem) Shared() bool {
	return c.OwnerAccountID == "" || c.OwnerAccountID == SharedOwner
}

type AffiliateItem struct {
	ID             string `json:"id"`
	OwnerAccountID string `json:"owner_account_id"`
	ContentID      string `json:"content_id"`
	ReplyText      string `json:"reply_text"`
	PromoURL       string `json:"promo_url,omitempty"`
}
