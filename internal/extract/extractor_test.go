package extract

import (
	"testing"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, body string) *simplejson.Json {
	t.Helper()
	j, err := simplejson.NewJson([]byte(body))
	require.NoError(t, err)
	return j
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		opts     []Option
		wantKey  string
		wantName string
		wantErr  error
	}{
		{
			name:     "coin_type_is_lowercased_and_trimmed",
			body:     `{"coinType":"  0xABC::Mod::TOKEN ","coinMetadata":{"name":"Moon"}}`,
			wantKey:  "0xabc::mod::token",
			wantName: "Moon",
		},
		{
			name:     "nested_coin_type",
			body:     `{"coinMetadata":{"coinType":"0xDEF::m::X","symbol":"XX"}}`,
			wantKey:  "0xdef::m::x",
			wantName: "XX",
		},
		{
			name:    "missing_coin_type",
			body:    `{"coinMetadata":{"name":"Moon"}}`,
			wantErr: ErrNoIdentity,
		},
		{
			name:    "non_string_coin_type",
			body:    `{"coinType":42,"name":"Moon"}`,
			wantErr: ErrNoIdentity,
		},
		{
			name:     "pool_id_fallback_enabled",
			body:     `{"poolId":"P-1","name":"Moon"}`,
			opts:     []Option{WithPoolIDFallback(true)},
			wantKey:  "pool:p-1",
			wantName: "Moon",
		},
		{
			name:    "pool_id_fallback_disabled",
			body:    `{"poolId":"P-1","name":"Moon"}`,
			wantErr: ErrNoIdentity,
		},
		{
			name:     "blank_name_falls_through_to_symbol",
			body:     `{"coinType":"0x1::a::B","coinMetadata":{"name":"   ","symbol":"BEE"}}`,
			wantKey:  "0x1::a::b",
			wantName: "BEE",
		},
		{
			name:     "top_level_name",
			body:     `{"coinType":"0x1::a::B","coinMetadata":null,"name":" Top "}`,
			wantKey:  "0x1::a::b",
			wantName: "Top",
		},
		{
			name:    "no_name_anywhere",
			body:    `{"coinType":"0x1::a::B","coinMetadata":{"name":7}}`,
			wantErr: ErrUnknownName,
		},
		{
			name:    "sentinel_name_rejected",
			body:    `{"coinType":"0x1::a::B","name":"Unknown Token"}`,
			wantErr: ErrUnknownName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, err := New(tt.opts...).Extract(parse(t, tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, listing.IdentityKey)
			assert.Equal(t, tt.wantName, listing.Name)
		})
	}
}

func TestExtractOptionalAttributes(t *testing.T) {
	body := `{
		"coinType": "0xAbC::meme::MEME",
		"coinMetadata": {"name": "Meme", "symbol": "MEME", "description": "so meme", "iconUrl": "data:image/png;base64,AAAA"},
		"creatorAddress": "0x1234567890abcdef",
		"marketData": {"marketCap": 123456.75},
		"isProtected": true,
		"creatorBalance": 1000000,
		"creatorPercent": "2.5",
		"creatorData": {"twitterHandle": " @memer ", "telegramHandle": "memechat"}
	}`

	listing, err := New().Extract(parse(t, body))
	require.NoError(t, err)

	assert.Equal(t, "0xAbC::meme::MEME", listing.CoinType)
	assert.Equal(t, "MEME", listing.Symbol)
	assert.Equal(t, "so meme", listing.Description)
	assert.Equal(t, "0x1234567890abcdef", listing.CreatorAddress)
	assert.Equal(t, "123456.75", listing.MarketCap)
	require.NotNil(t, listing.Protected)
	assert.True(t, *listing.Protected)
	assert.Equal(t, "1000000", listing.CreatorBalance)
	assert.Equal(t, "2.5", listing.CreatorPercent)
	assert.Equal(t, "https://x.com/memer", listing.TwitterURL)
	assert.Equal(t, "https://t.me/memechat", listing.TelegramURL)
	assert.Equal(t, "data:image/png;base64,AAAA", listing.ImageRef)
}

func TestExtractMissingOptionalsStayEmpty(t *testing.T) {
	listing, err := New().Extract(parse(t, `{"coinType":"0x1::a::B","name":"B","isProtected":"yes","creatorData":{"twitterHandle":"@"}}`))
	require.NoError(t, err)

	assert.Nil(t, listing.Protected)
	assert.Empty(t, listing.Description)
	assert.Empty(t, listing.MarketCap)
	assert.Empty(t, listing.TwitterURL)
	assert.Empty(t, listing.ImageRef)
}

func TestSameTokenDifferentShapesShareKey(t *testing.T) {
	e := New()
	a, err := e.Extract(parse(t, `{"coinType":"0xAA::x::Y","name":"One"}`))
	require.NoError(t, err)
	b, err := e.Extract(parse(t, `{"coinMetadata":{"coinType":" 0xaa::X::y","name":"One renamed"}}`))
	require.NoError(t, err)

	assert.Equal(t, a.IdentityKey, b.IdentityKey)
}

func TestNormalizeTwitter(t *testing.T) {
	assert.Equal(t, "https://x.com/abc", NormalizeTwitter("@abc"))
	assert.Equal(t, "https://x.com/abc", NormalizeTwitter("  @@abc "))
	assert.Equal(t, "https://twitter.com/abc", NormalizeTwitter("https://twitter.com/abc"))
	assert.Empty(t, NormalizeTwitter(" @ "))
}

func TestRecords(t *testing.T) {
	doc := parse(t, `{"pools":[{"coinType":"a"},{"coinType":"b"},null]}`)
	assert.Len(t, Records(doc, "pools"), 3)
	assert.Empty(t, Records(doc, "missing"))
	assert.Empty(t, Records(parse(t, `{"pools":{"coinType":"a"}}`), "pools"))
	assert.Empty(t, Records(nil, "pools"))
}
