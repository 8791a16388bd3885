package domain

import "time"

// NoticeKind severity of a notice.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice fields.
const (
	FieldAccount      = "account"
	FieldNetwork      = "network"
	FieldContract     = "contract"
	FieldTokenBalance = "tokenBalance"
	FieldEthBalance   = "ethBalance"
	FieldTokenPrice   = "tokenPrice"
	FieldTrade        = "trade"
	FieldWallet       = "wallet"
)

// Notice is a transient user-facing message.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Field     string     `json:"field,omitempty"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// NewNotice creates a notice without expiry; the session stamps it when shown.
func NewNotice(kind NoticeKind, field, message string) Notice {
	return Notice{Kind: kind, Field: field, Message: message}
}

// Expired reports whether the notice should no longer be shown.
// A notice with zero ExpiresAt never expires.
func (n Notice) Expired(now time.Time) bool {
	return !n.ExpiresAt.IsZero() && !now.Before(n.ExpiresAt)
}

// IsError reports whether the notice describes a failure.
func (n Notice) IsError() bool {
	return n.Kind == NoticeError || n.Kind == NoticeWarning
}
