// Package extract turns loosely structured upstream listing records into
// models.Listing values with a stable identity key.
package extract

import (
	"errors"
	"strings"

	simplejson "github.com/bitly/go-simplejson"

	"launchwatch/internal/models"
)

var (
	// ErrNoIdentity is returned for records without a usable coin type.
	ErrNoIdentity = errors.New("listing has no identity key")
	// ErrUnknownName is returned for records without a usable name or symbol.
	ErrUnknownName = errors.New("listing has no usable name")
)

// PoolKeyPrefix namespaces identity keys derived from pool ids.
const PoolKeyPrefix = "pool:"

// Locations of the canonical on-chain coin type, in lookup order.
var coinTypePaths = []string{"coinType", "coinMetadata.coinType", "coin_type"}

var poolIDPaths = []string{"poolId", "id"}

var namePaths = []string{"coinMetadata.name", "coinMetadata.symbol", "name", "symbol"}

var symbolPaths = []string{"coinMetadata.symbol", "symbol"}

var descriptionPaths = []string{"coinMetadata.description", "description"}

var imagePaths = []string{"coinMetadata.icon_url", "coinMetadata.iconUrl"}

// Extractor is safe for concurrent use.
type Extractor struct {
	allowPoolID bool
}

type Option func(*Extractor)

// WithPoolIDFallback lets records without a coin type be identified by their
// pool id. Such keys carry PoolKeyPrefix.
func WithPoolIDFallback(enabled bool) Option {
	return func(e *Extractor) { e.allowPoolID = enabled }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeKey canonicalizes an identity key. Every comparison of keys goes
// through it.
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeTwitter turns a handle like " @name " into https://x.com/name.
// Values that already are URLs are returned unchanged.
func NormalizeTwitter(handle string) string {
	handle = strings.TrimSpace(handle)
	if isURL(handle) {
		return handle
	}
	handle = strings.TrimSpace(strings.TrimLeft(handle, "@"))
	if handle == "" {
		return ""
	}
	return "https://x.com/" + handle
}

// NormalizeTelegram turns a handle into a t.me link.
func NormalizeTelegram(handle string) string {
	handle = strings.TrimSpace(handle)
	if isURL(handle) {
		return handle
	}
	handle = strings.TrimSpace(strings.TrimLeft(handle, "@"))
	if handle == "" {
		return ""
	}
	return "https://t.me/" + handle
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

// Extract reads one raw record. Records without an identity or a name are
// rejected with ErrNoIdentity or ErrUnknownName.
func (e *Extractor) Extract(raw *simplejson.Json) (models.Listing, error) {
	doc := newDocument(raw)

	var listing models.Listing
	if coinType, ok := doc.firstString(coinTypePaths...); ok {
		listing.CoinType = coinType
		listing.IdentityKey = NormalizeKey(coinType)
	} else if e.allowPoolID {
		for _, p := range poolIDPaths {
			if id, ok := doc.scalarAt(p); ok {
				listing.IdentityKey = PoolKeyPrefix + NormalizeKey(id)
				break
			}
		}
	}
	if listing.IdentityKey == "" {
		return models.Listing{}, ErrNoIdentity
	}

	name, ok := doc.firstString(namePaths...)
	if !ok || name == models.UnknownName {
		return models.Listing{}, ErrUnknownName
	}
	listing.Name = name

	listing.Symbol, _ = doc.firstString(symbolPaths...)
	listing.Description, _ = doc.firstString(descriptionPaths...)
	listing.CreatorAddress, _ = doc.stringAt("creatorAddress")
	listing.MarketCap, _ = doc.scalarAt("marketData.marketCap")
	listing.Protected, _ = doc.boolAt("isProtected")
	listing.CreatorBalance, _ = doc.scalarAt("creatorBalance")
	listing.CreatorPercent, _ = doc.scalarAt("creatorPercent")
	listing.ImageRef, _ = doc.firstString(imagePaths...)

	if handle, ok := doc.stringAt("creatorData.twitterHandle"); ok {
		listing.TwitterURL = NormalizeTwitter(handle)
	}
	if handle, ok := doc.stringAt("creatorData.telegramHandle"); ok {
		listing.TelegramURL = NormalizeTelegram(handle)
	}

	return listing, nil
}

// Records returns the listing records under key in a decoded feed document.
// A missing key or a non-array value yields no records.
func Records(doc *simplejson.Json, key string) []*simplejson.Json {
	if doc == nil {
		return nil
	}
	list, ok := doc.CheckGet(key)
	if !ok {
		return nil
	}
	arr, err := list.Array()
	if err != nil {
		return nil
	}
	out := make([]*simplejson.Json, 0, len(arr))
	for i := range arr {
		out = append(out, list.GetIndex(i))
	}
	return out
}
