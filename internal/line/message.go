package line

import "github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

// Message は Messaging API に送るメッセージ1件
type Message = messaging_api.MessageInterface

func NewTextMessage(text string) *messaging_api.TextMessage {
	return &messaging_api.TextMessage{Text: text}
}

// CameraRollReply: 「写真を送る」クイックリプライ
func CameraRollReply(label string) *messaging_api.QuickReply {
	return &messaging_api.QuickReply{Items: []messaging_api.QuickReplyItem{{
		Type:   "action",
		Action: &messaging_api.CameraRollAction{Label: label},
	}}}
}

func NewFlexMessage(altText string, contents messaging_api.FlexContainerInterface) *messaging_api.FlexMessage {
	return &messaging_api.FlexMessage{AltText: altText, Contents: contents}
}

// Box: 子要素を並べるだけの box
func Box(layout messaging_api.FlexBoxLAYOUT, contents ...messaging_api.FlexComponentInterface) *messaging_api.FlexBox {
	if contents == nil {
		contents = []messaging_api.FlexComponentInterface{}
	}
	return &messaging_api.FlexBox{Layout: layout, Contents: contents}
}

func URIAction(label, uri string) *messaging_api.UriAction {
	return &messaging_api.UriAction{Label: label, Uri: uri}
}
