package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"relay-bot/relay"
)

// AllowedUpdates are the update kinds requested from getUpdates.
var AllowedUpdates = []string{"message", "callback_query"}

// pollSlack is the time allowed past the long-poll timeout for a getUpdates
// round trip.
const pollSlack = 15 * time.Second

// RequestTimeout returns the HTTP timeout a getUpdates call with the given
// long-poll timeout needs to complete.
func RequestTimeout(poll time.Duration) time.Duration {
	return poll + pollSlack
}

// Client talks to the Telegram Bot API. It implements relay.Transport.
type Client struct {
	api            *tgbotapi.BotAPI
	endpoint       string
	httpClient     tgbotapi.HTTPClient
	requestTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint sets the API endpoint format, as tgbotapi.APIEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(client tgbotapi.HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRequestTimeout sets the timeout of the default HTTP client. It must
// exceed the long-poll timeout; see RequestTimeout. Ignored together with
// WithHTTPClient.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// New creates a client and verifies the token with getMe.
func New(token string, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:       tgbotapi.APIEndpoint,
		requestTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.requestTimeout}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect to bot api: %w", err)
	}
	c.api = api

	return c, nil
}

// Username returns the bot's username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// GetUpdates long-polls for updates after offset. Unlike tgbotapi's own
// GetUpdates it is bound to ctx and decodes the extended message fields.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	allowed, err := json.Marshal(AllowedUpdates)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("offset", strconv.Itoa(offset))
	form.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	form.Set("allowed_updates", string(allowed))

	method := fmt.Sprintf(c.endpoint, c.api.Token, "getUpdates")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp tgbotapi.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !apiResp.Ok {
		return nil, &tgbotapi.Error{Code: apiResp.ErrorCode, Message: apiResp.Description}
	}

	var updates []Update
	if err := json.Unmarshal(apiResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	return updates, nil
}

// EditKeyboard replaces the inline keyboard attached to a message. Telegram
// rejects edits that change nothing; those count as success.
func (c *Client) EditKeyboard(ctx context.Context, chatID int64, messageID int, kb relay.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, Markup(kb))
	if _, err := c.api.Request(edit); err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

// AnswerClick acknowledges a button press. An empty text is a silent ack;
// alert shows the text as a modal notice.
func (c *Client) AnswerClick(ctx context.Context, clickID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	answer := tgbotapi.NewCallback(clickID, text)
	if alert {
		answer = tgbotapi.NewCallbackWithAlert(clickID, text)
	}
	_, err := c.api.Request(answer)
	return err
}

// Markup converts a rendered keyboard into a single-row inline markup.
func Markup(kb relay.Keyboard) tgbotapi.InlineKeyboardMarkup {
	row := lo.Map(kb.Buttons, func(b relay.Button, _ int) tgbotapi.InlineKeyboardButton {
		if b.URL != "" {
			return tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)
		}
		return tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData)
	})
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.Message, "message is not modified")
}
