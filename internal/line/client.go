package line

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/config"
)

// MaxMulticastRecipients: multicast 1回あたりの宛先上限
const MaxMulticastRecipients = 500

// APIError: LINE API が 2xx 以外を返した
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api error: status=%d message=%s", e.StatusCode, e.Message)
}

// Messenger: 通知ジョブが使う送信口
type Messenger interface {
	PushMessage(ctx context.Context, to string, msgs ...Message) error
	Multicast(ctx context.Context, to []string, msgs ...Message) error
	ReplyMessage(ctx context.Context, replyToken string, msgs ...Message) error
}

// Client: 送信は Messaging API SDK、LINE Login の検証だけ net/http で叩く
type Client struct {
	channelID  string
	liffID     string
	baseURL    string
	httpClient *http.Client
	bot        *messaging_api.MessagingApiAPI
}

func NewClient(cfg config.LineConfig) (*Client, error) {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")

	bot, err := messaging_api.NewMessagingApiAPI(cfg.ChannelAccessToken,
		messaging_api.WithHTTPClient(httpClient),
		messaging_api.WithEndpoint(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging api client: %w", err)
	}
	return &Client{
		channelID:  cfg.ChannelID,
		liffID:     cfg.LiffID,
		baseURL:    baseURL,
		httpClient: httpClient,
		bot:        bot,
	}, nil
}

// LiffURL: LIFF アプリ内の path を開くリンク
func (c *Client) LiffURL(path string) string {
	u := "https://liff.line.me/" + c.liffID
	if path == "" {
		return u
	}
	return u + "?visitTo=" + url.QueryEscape(path)
}

// api: WithContext は受け手を書き換えるので呼び出しごとに複製して使う
func (c *Client) api(ctx context.Context) *messaging_api.MessagingApiAPI {
	bot := *c.bot
	return bot.WithContext(ctx)
}

// POST /v2/bot/message/push
func (c *Client) PushMessage(ctx context.Context, to string, msgs ...Message) error {
	res, _, err := c.api(ctx).PushMessageWithHttpInfo(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: msgs,
	}, "")
	return sendError(res, err)
}

// POST /v2/bot/message/multicast（500件ずつに分割）
func (c *Client) Multicast(ctx context.Context, to []string, msgs ...Message) error {
	for start := 0; start < len(to); start += MaxMulticastRecipients {
		end := start + MaxMulticastRecipients
		if end > len(to) {
			end = len(to)
		}
		res, _, err := c.api(ctx).MulticastWithHttpInfo(&messaging_api.MulticastRequest{
			To:       to[start:end],
			Messages: msgs,
		}, "")
		if err := sendError(res, err); err != nil {
			return fmt.Errorf("multicast recipients %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// POST /v2/bot/message/reply
func (c *Client) ReplyMessage(ctx context.Context, replyToken string, msgs ...Message) error {
	res, _, err := c.api(ctx).ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   msgs,
	})
	return sendError(res, err)
}

// sendError: SDK は 2xx 以外でも本文を残して返すので、そこから APIError を組む
func sendError(res *http.Response, err error) error {
	if err == nil {
		return nil
	}
	if res == nil || res.StatusCode/100 == 2 {
		return fmt.Errorf("send request: %w", err)
	}
	apiErr := responseError(res)
	if apiErr.Message == "" {
		apiErr.Message = err.Error()
	}
	return apiErr
}

// ===== LINE Login =====

// IDTokenClaims: id_token 検証結果のうち使うものだけ
type IDTokenClaims struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Aud     string `json:"aud"`
	Exp     int64  `json:"exp"`
}

// VerifyIDToken: POST /oauth2/v2.1/verify で id_token を検証する（client_id = channel id）。
// LINE Login の API は SDK に無い。
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*IDTokenClaims, error) {
	form := url.Values{}
	form.Set("id_token", idToken)
	form.Set("client_id", c.channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/v2.1/verify", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, responseError(res)
	}

	var claims IDTokenClaims
	if err := json.NewDecoder(res.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if claims.Subject == "" {
		return nil, &APIError{StatusCode: res.StatusCode, Message: "id token has no subject"}
	}
	return &claims, nil
}

func responseError(res *http.Response) *APIError {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var body struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.ErrorDescription != "" {
			msg = body.ErrorDescription
		}
	}
	return &APIError{StatusCode: res.StatusCode, Message: msg}
}
