package line

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader: webhook 本文の HMAC-SHA256（base64）
const SignatureHeader = "X-Line-Signature"

var ErrInvalidSignature = webhook.ErrInvalidSignature

// ParseWebhook: channel secret があれば署名を検証してから読む
func ParseWebhook(channelSecret string, r *http.Request) (*webhook.CallbackRequest, error) {
	if channelSecret != "" {
		return webhook.ParseRequest(channelSecret, r)
	}
	var cb webhook.CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return &cb, nil
}

// ImageEvent: 画像メッセージのイベント
type ImageEvent struct {
	ReplyToken string
	Image      webhook.ImageMessageContent
}

// AsImageEvent: 画像メッセージでなければ false
func AsImageEvent(ev webhook.EventInterface) (ImageEvent, bool) {
	var me webhook.MessageEvent
	switch e := ev.(type) {
	case webhook.MessageEvent:
		me = e
	case *webhook.MessageEvent:
		if e == nil {
			return ImageEvent{}, false
		}
		me = *e
	default:
		return ImageEvent{}, false
	}
	switch m := me.Message.(type) {
	case webhook.ImageMessageContent:
		return ImageEvent{ReplyToken: me.ReplyToken, Image: m}, true
	case *webhook.ImageMessageContent:
		if m == nil {
			return ImageEvent{}, false
		}
		return ImageEvent{ReplyToken: me.ReplyToken, Image: *m}, true
	}
	return ImageEvent{}, false
}

// IsLastOfSet: まとめ送信でなければ常に true。Index は 1 始まり。
func (e ImageEvent) IsLastOfSet() bool {
	set := e.Image.ImageSet
	if set == nil {
		return true
	}
	return set.Index == set.Total
}
