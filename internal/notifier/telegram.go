package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"launchwatch/config"
	"launchwatch/internal/models"
	"launchwatch/logger"
)

// MaxCaptionLength is the longest photo caption the Bot API accepts.
const MaxCaptionLength = 1024

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type botUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]models.ActionLink `json:"inline_keyboard"`
}

// Telegram is a Bot API client bound to one chat.
type Telegram struct {
	client  *http.Client
	baseURL string
	chatID  string
	limiter *rate.Limiter
	log     *logger.Entry
	now     func() time.Time
}

func NewTelegram(cfg config.TelegramConfig, log *logger.Log) *Telegram {
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Telegram{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		chatID:  NormalizeChatID(cfg.ChatID),
		limiter: rate.NewLimiter(limit, burst),
		log:     log.WithComponent("telegram"),
		now:     time.Now,
	}
}

// NormalizeChatID prefixes numeric group ids with "-". Ids that already carry
// the sign and @channel names are returned unchanged.
func NormalizeChatID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "-") || strings.HasPrefix(id, "@") {
		return id
	}
	return "-" + id
}

func (t *Telegram) Deliver(ctx context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error) {
	body := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     payload.Text,
		"disable_web_page_preview": true,
	}
	if payload.ParseMode != "" {
		body["parse_mode"] = payload.ParseMode
	}
	if markup := replyMarkup(payload.Actions); markup != nil {
		body["reply_markup"] = markup
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("encode sendMessage: %w", err)
	}
	return t.send(ctx, "sendMessage", "application/json", bytes.NewReader(buf))
}

// DeliverWithImage sends the payload as a photo with caption. Payloads without
// an image, or whose text exceeds the caption limit, are sent as text.
func (t *Telegram) DeliverWithImage(ctx context.Context, payload models.NotificationPayload) (models.DeliveryReceipt, error) {
	if payload.Image == nil || len(payload.Image.Data) == 0 {
		return t.Deliver(ctx, payload)
	}
	if utf8.RuneCountInString(payload.Text) > MaxCaptionLength {
		t.log.WithFields(logger.Fields{"length": utf8.RuneCountInString(payload.Text)}).Debug("caption too long, sending text only")
		return t.Deliver(ctx, payload)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id": t.chatID,
		"caption": payload.Text,
	}
	if payload.ParseMode != "" {
		fields["parse_mode"] = payload.ParseMode
	}
	if markup := replyMarkup(payload.Actions); markup != nil {
		raw, err := json.Marshal(markup)
		if err != nil {
			return models.DeliveryReceipt{}, fmt.Errorf("encode reply markup: %w", err)
		}
		fields["reply_markup"] = string(raw)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return models.DeliveryReceipt{}, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("photo", payload.Image.Filename())
	if err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(payload.Image.Data); err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("write photo part: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("close multipart body: %w", err)
	}
	return t.send(ctx, "sendPhoto", w.FormDataContentType(), &buf)
}

// Ping checks the token with getMe and returns the bot username.
func (t *Telegram) Ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/getMe", nil)
	if err != nil {
		return "", err
	}
	result, err := t.do(req, "getMe")
	if err != nil {
		return "", err
	}
	var user botUser
	if err := json.Unmarshal(result, &user); err != nil {
		return "", fmt.Errorf("decode getMe result: %w", err)
	}
	return user.Username, nil
}

// SendStartupMessage announces that the monitor came up.
func (t *Telegram) SendStartupMessage(ctx context.Context, platform string) error {
	text := fmt.Sprintf("🤖 <b>Monitor started</b>\nWatching %s for new tokens.", platform)
	_, err := t.Deliver(ctx, models.NotificationPayload{Text: text, ParseMode: models.ParseModeHTML})
	return err
}

func (t *Telegram) send(ctx context.Context, method, contentType string, body io.Reader) (models.DeliveryReceipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("%w: %s rate limit wait: %v", ErrDelivery, method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, body)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	result, err := t.do(req, method)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}
	var msg sentMessage
	if err := json.Unmarshal(result, &msg); err != nil {
		return models.DeliveryReceipt{}, fmt.Errorf("%w: decode %s result: %v", ErrDelivery, method, err)
	}
	logger.LogPerformanceEntry(t.log, "telegram", method, time.Since(start), logger.Fields{"message_id": msg.MessageID})
	return models.DeliveryReceipt{
		MessageID:   strconv.FormatInt(msg.MessageID, 10),
		DeliveredAt: t.now().UTC(),
	}, nil
}

func (t *Telegram) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		// url.Error carries the request URL, which embeds the bot token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDelivery, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrDelivery, method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: status %d: undecodable response", ErrDelivery, method, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !out.OK {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrDelivery, method, resp.StatusCode, out.Description)
	}
	return out.Result, nil
}

func replyMarkup(actions []models.ActionLink) *inlineKeyboard {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]models.ActionLink, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []models.ActionLink{a})
	}
	return &inlineKeyboard{InlineKeyboard: rows}
}
