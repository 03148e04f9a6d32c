package models

import "time"

const ParseModeHTML = "HTML"

// Image is an inline image decoded from a data URI.
type Image struct {
	MIMEType string
	Data     []byte
}

// Filename returns a name suitable for a multipart upload.
func (i Image) Filename() string {
	switch i.MIMEType {
	case "image/jpeg", "image/jpg":
		return "token.jpg"
	case "image/gif":
		return "token.gif"
	case "image/webp":
		return "token.webp"
	default:
		return "token.png"
	}
}

// ActionLink is a button rendered under the announcement.
type ActionLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// NotificationPayload is the rendered announcement for one listing.
type NotificationPayload struct {
	Text      string
	ParseMode string
	Image     *Image
	Actions   []ActionLink
}

// DeliveryReceipt acknowledges a delivered announcement.
type DeliveryReceipt struct {
	MessageID   string
	DeliveredAt time.Time
}
