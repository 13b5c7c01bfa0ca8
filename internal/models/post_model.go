package models

import "time"

type MediaKind string

const (
	MediaKindText     MediaKind = "text"
	MediaKindImage    MediaKind = "image"
	MediaKindCarousel MediaKind = "carousel"
)

// PostState is a step of the compose -> publish -> reply protocol.
type PostState string

const (
	PostStateIdle           PostState = "idle"
	PostStateComposing      PostState = "composing"
	PostStateCreated        PostState = "created"
	PostStatePublished      PostState = "published"
	PostStateReplyPending   PostState = "reply_pending"
	PostStateReplyPublished PostState = "reply_published"
	PostStateReplyFailed    PostState = "reply_failed"
)

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// PostRecord is the immutable result of one orchestration attempt for one account.
type PostRecord struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	ContentID     string    `json:"content_id,omitempty"`
	AffiliateID   string    `json:"affiliate_id,omitempty"`
	MainPostID    string    `json:"main_post_id,omitempty"`
	ReplyPostID   string    `json:"reply_post_id,omitempty"`
	MediaKind     MediaKind `json:"media_kind,omitempty"`
	MediaURLs     []string  `json:"media_urls,omitempty"`
	ProxyEndpoint string    `json:"proxy_endpoint,omitempty"`
	State         PostState `json:"state"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	Test          bool      `json:"test,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MediaPlan is the classified shape of a post and its ordered public media URLs.
type MediaPlan struct {
	Kind MediaKind `json:"kind"`
	URLs []string  `json:"urls,omitempty"`
}
