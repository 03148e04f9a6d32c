package models

import "time"

// AnnouncementRecord marks an identity key as announced. It is created once
// and never modified.
type AnnouncementRecord struct {
	ID                int64     `json:"id"`
	IdentityKey       string    `json:"identity_key"`
	DisplayName       string    `json:"name"`
	AnnouncedAt       time.Time `json:"posted_at"`
	DeliveryReceiptID string    `json:"telegram_message_id,omitempty"`
}

// MonitorStats is the singleton progress record of the poll loop.
type MonitorStats struct {
	TotalSeen        int64      `json:"total_tokens_found"`
	TotalAnnounced   int64      `json:"total_tokens_posted"`
	TotalCycles      int64      `json:"total_cycles"`
	DeliveryFailures int64      `json:"delivery_failures"`
	LastCycleAt      *time.Time `json:"last_check"`
	LastError        *string    `json:"last_error"`
	Running          bool       `json:"is_running"`
}
