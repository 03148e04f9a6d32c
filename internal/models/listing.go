package models

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// LISTING ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// UnknownName is the sentinel display name of a listing without a usable
// name or symbol. Listings carrying it are never announced.
const UnknownName = "Unknown Token"

// Listing holds the display attributes extracted from one upstream record.
// Numeric attributes keep the raw string form the feed used so the formatter
// can decide how to render them. Empty strings mean "absent".
type Listing struct {
	IdentityKey    string `json:"identity_key"`
	CoinType       string `json:"coin_type"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Description    string `json:"description,omitempty"`
	CreatorAddress string `json:"creator_address,omitempty"`
	MarketCap      string `json:"market_cap,omitempty"`
	Protected      *bool  `json:"is_protected,omitempty"`
	CreatorBalance string `json:"creator_balance,omitempty"`
	CreatorPercent string `json:"creator_percent,omitempty"`
	TwitterURL     string `json:"twitter_url,omitempty"`
	TelegramURL    string `json:"telegram_url,omitempty"`
	ImageRef       string `json:"-"`
}

// DisplayName is the name shown in announcements and on the dashboard.
func (l Listing) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return UnknownName
}
