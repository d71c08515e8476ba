package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/notify"
)

// APIError is a failed Bot API call. Network failures, rate limiting and
// server errors are transient; everything else (bad chat, blocked bot,
// malformed request) is not worth retrying.
type APIError struct {
	Method      string
	Status      int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.Status, e.Description)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Transient() bool {
	return e.Err != nil || e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

var errEditReplyKeyboard = errors.New("reply keyboards cannot be attached by editing")

// Client talks to the Bot API over HTTPS. It implements notify.Messenger.
type Client struct {
	http    *http.Client // sends, edits, callbacks
	poll    *http.Client // getUpdates, held open for PollTimeout
	baseURL string
}

func NewClient(cfg config.Telegram) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		poll:    &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		baseURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
	}
}

func (c *Client) Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int64, error) {
	req := sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup(kb)}

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// Edit replaces a message's text and inline keyboard. An edit that changes
// nothing is reported by the API as an error and treated as success here.
func (c *Client) Edit(ctx context.Context, chatID, messageID int64, text string, kb notify.Keyboard) error {
	req := editMessageRequest{ChatID: chatID, MessageID: messageID, Text: text}
	if kb != nil {
		inline, ok := markup(kb).(inlineKeyboard)
		if !ok {
			return &APIError{Method: "editMessageText", Status: http.StatusBadRequest, Description: errEditReplyKeyboard.Error()}
		}
		req.ReplyMarkup = &inline
	}

	err := c.call(ctx, "editMessageText", req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

// AnswerCallback stops the loading indicator on a pressed button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID}, nil)
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	}

	var updates []Update
	if err := c.callWith(ctx, c.poll, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook switches the bot to long polling. Pending updates are kept.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload, result any) error {
	return c.callWith(ctx, c.http, method, payload, result)
}

func (c *Client) callWith(ctx context.Context, hc *http.Client, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return &APIError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &APIError{Method: method, Err: err}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &APIError{Method: method, Status: resp.StatusCode, Description: "undecodable response"}
	}

	if !out.OK {
		apiErr := &APIError{Method: method, Status: resp.StatusCode, Description: out.Description}
		if out.ErrorCode != 0 {
			apiErr.Status = out.ErrorCode
		}
		if out.Parameters != nil {
			apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if result == nil || len(out.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// markup renders a keyboard. A contact request needs a reply keyboard; any
// other keyboard is inline. No keyboard removes a previous reply keyboard.
func markup(kb notify.Keyboard) any {
	if kb == nil {
		return removeKeyboard{RemoveKeyboard: true}
	}

	contact := false
	for _, row := range kb {
		for _, b := range row {
			contact = contact || b.RequestContact
		}
	}

	if contact {
		rows := make([][]replyButton, 0, len(kb))
		for _, row := range kb {
			r := make([]replyButton, 0, len(row))
			for _, b := range row {
				r = append(r, replyButton{Text: b.Text, RequestContact: b.RequestContact})
			}
			rows = append(rows, r)
		}
		return replyKeyboard{Keyboard: rows, ResizeKeyboard: true, OneTimeKeyboard: true}
	}

	rows := make([][]inlineButton, 0, len(kb))
	for _, row := range kb {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, r)
	}
	return inlineKeyboard{InlineKeyboard: rows}
}
