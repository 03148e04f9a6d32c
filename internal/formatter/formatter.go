// Package formatter renders listings into Telegram-ready HTML announcements.
// It performs no I/O.
package formatter

import (
	"encoding/base64"
	"fmt"
	"html"
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"launchwatch/config"
	"launchwatch/internal/models"
)

const buyKeyLength = 20

type Formatter struct {
	cfg config.FormatterConfig
}

func New(cfg config.FormatterConfig) *Formatter {
	def := config.Default().Formatter
	if cfg.PlatformName == "" {
		cfg.PlatformName = def.PlatformName
	}
	if cfg.PlatformURL == "" {
		cfg.PlatformURL = def.PlatformURL
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = def.ExplorerURL
	}
	if cfg.BuyButtonText == "" {
		cfg.BuyButtonText = def.BuyButtonText
	}
	return &Formatter{cfg: cfg}
}

// Format builds the announcement for listing. Optional sections are left out
// when the attribute is missing.
func (f *Formatter) Format(listing models.Listing) models.NotificationPayload {
	esc := html.EscapeString
	name := listing.DisplayName()

	var b strings.Builder
	fmt.Fprintf(&b, "📣 <b>%s</b>\n", esc(strings.ToUpper(name)))
	fmt.Fprintf(&b, "deployed on <a href='%s'>%s</a> 🆕!\n\n", esc(f.cfg.PlatformURL), esc(f.cfg.PlatformName))

	if listing.Symbol != "" {
		fmt.Fprintf(&b, "🪙 <b>%s - $%s</b>\n", esc(name), esc(listing.Symbol))
	} else {
		fmt.Fprintf(&b, "🪙 <b>%s</b>\n", esc(name))
	}
	if listing.CoinType != "" {
		fmt.Fprintf(&b, "<code>%s</code>\n\n", esc(listing.CoinType))
	} else {
		fmt.Fprintf(&b, "<code>%s</code>\n\n", esc(listing.IdentityKey))
	}

	if listing.Description != "" {
		fmt.Fprintf(&b, "📝 <b>Description:</b> %s\n\n", esc(listing.Description))
	}
	if listing.MarketCap != "" {
		fmt.Fprintf(&b, "💰 <b>Market Cap:</b> $%s\n\n", esc(FormatNumber(listing.MarketCap)))
	}
	if dev := devInitialBuy(listing); dev != "" {
		fmt.Fprintf(&b, "⚡ <b>%s</b>\n\n", esc(dev))
	}
	if socials := socialLinks(listing); socials != "" {
		fmt.Fprintf(&b, "📊 <b>Socials:</b> %s\n\n", socials)
	}
	if listing.Protected != nil {
		if *listing.Protected {
			b.WriteString("🚨 <b>Anti-Sniper Protection Active</b>\n\n")
		} else {
			b.WriteString("⚠️ <b>Anti-Sniper NOT Active</b>\n\n")
		}
	}
	if listing.CreatorAddress != "" {
		fmt.Fprintf(&b, "👨‍💻 <b>Created By:</b> <a href='%s%s'>%s</a>",
			esc(f.cfg.ExplorerURL), esc(listing.CreatorAddress), esc(ShortenAddress(listing.CreatorAddress)))
	}

	payload := models.NotificationPayload{
		Text:      strings.TrimRight(b.String(), "\n"),
		ParseMode: models.ParseModeHTML,
		Image:     DecodeImage(listing.ImageRef),
	}
	if action, ok := f.buyAction(listing); ok {
		payload.Actions = []models.ActionLink{action}
	}
	return payload
}

func (f *Formatter) buyAction(listing models.Listing) (models.ActionLink, bool) {
	if f.cfg.BuyURLTemplate == "" || listing.CoinType == "" {
		return models.ActionLink{}, false
	}
	key := listing.CoinType
	if len(key) > buyKeyLength {
		key = key[:buyKeyLength]
	}
	return models.ActionLink{
		Text: f.cfg.BuyButtonText,
		URL:  fmt.Sprintf(f.cfg.BuyURLTemplate, key),
	}, true
}

func devInitialBuy(listing models.Listing) string {
	if listing.CreatorBalance == "" || isZero(listing.CreatorBalance) {
		return ""
	}
	text := fmt.Sprintf("Dev Initial: %s tokens", FormatNumber(listing.CreatorBalance))
	if listing.CreatorPercent != "" && !isZero(listing.CreatorPercent) {
		text += fmt.Sprintf(" (%s%%)", listing.CreatorPercent)
	}
	return text
}

func socialLinks(listing models.Listing) string {
	var links []string
	if listing.TwitterURL != "" {
		links = append(links, fmt.Sprintf("🐦 <a href='%s'>X</a>", html.EscapeString(listing.TwitterURL)))
	}
	if listing.TelegramURL != "" {
		links = append(links, fmt.Sprintf("📢 <a href='%s'>TG</a>", html.EscapeString(listing.TelegramURL)))
	}
	return strings.Join(links, " | ")
}

func isZero(raw string) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	return err == nil && d.IsZero()
}

// FormatNumber groups the integer digits of a decimal value with commas and
// keeps the fraction as sent. Values that are not numbers are returned
// unchanged.
func FormatNumber(raw string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	intPart, frac, _ := strings.Cut(d.String(), ".")
	n, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return raw
	}
	out := humanize.BigComma(n)
	if d.IsNegative() && !strings.HasPrefix(out, "-") {
		out = "-" + out
	}
	if frac != "" {
		out += "." + frac
	}
	return out
}

// ShortenAddress renders 0x1234567890abcdef as 0x1234...cdef.
func ShortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// DecodeImage returns the image embedded in a data:image/...;base64 URI.
// Anything else, including undecodable payloads, yields nil.
func DecodeImage(ref string) *models.Image {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), "data:")
	if !ok {
		return nil
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok || !strings.HasPrefix(mime, "image/") {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil
		}
	}
	if len(data) == 0 {
		return nil
	}
	return &models.Image{MIMEType: mime, Data: data}
}
