package webhooks

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/rs/zerolog"

	"github.com/kanatamon/covid19-home-isolation/internal/contacts"
	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/notify"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
)

const JobLineEvents = "line-events"

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeUnexpectedShape Code = "UNEXPECTED_SHAPE"
	CodeInternal        Code = "INTERNAL"
)

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// LineEventHandler: notify.Service が実装する
type LineEventHandler interface {
	HandleLineEvents(ctx context.Context, cb *webhook.CallbackRequest) (bool, error)
}

type Config struct {
	Secret        string // X-Hub-Signature-256
	ChannelSecret string // X-Line-Signature。空なら検証しない
	JWTSecret     []byte
}

type Handler struct {
	runner *Runner
	events LineEventHandler
	cfg    Config
	log    zerolog.Logger
}

// RegisterRoutes: /webhooks/<job> をジョブごとに登録する
func RegisterRoutes(r gin.IRouter, cfg Config, runner *Runner, events LineEventHandler, log zerolog.Logger) {
	h := &Handler{runner: runner, events: events, cfg: cfg, log: log.With().Str("component", "webhooks").Logger()}
	hooks := r.Group("/webhooks")

	// POST /webhooks/line-events（LINE プラットフォームから）
	hooks.POST("/"+JobLineEvents, h.LineEvents)

	// POST /webhooks/<job>?force=true&notifyType=...
	jobs := hooks.Group("", auth.OptionalAuth(cfg.JWTSecret), RequireSignature(cfg.Secret))
	for _, name := range runner.Jobs() {
		jobs.POST("/"+name, h.trigger(name))
	}
}

// ---------- handlers ----------

func (h *Handler) trigger(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		force := c.Query("force") == "true"
		if force && !auth.IsAdmin(c) {
			c.JSON(http.StatusForbidden, errorBody(CodeForbidden, "force requires an admin token"))
			return
		}

		res, err := h.runner.Run(c.Request.Context(), name, Options{
			Force:      force,
			NotifyType: c.Query("notifyType"),
		})
		if err != nil {
			status, body := h.fromErr(name, err)
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) fromErr(job string, err error) (int, errorDTO) {
	switch {
	case errors.Is(err, notify.ErrInvalidNotifyType):
		return http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error())
	case errors.Is(err, contacts.ErrUnexpectedShape):
		h.log.Error().Err(err).Str("job", job).Msg("contact data has unexpected shape")
		return http.StatusInternalServerError, errorBody(CodeUnexpectedShape, "contact data has unexpected shape")
	default:
		h.log.Error().Err(err).Str("job", job).Msg("job failed")
		return http.StatusInternalServerError, errorBody(CodeInternal, "job failed")
	}
}

// POST /webhooks/line-events
func (h *Handler) LineEvents(c *gin.Context) {
	if _, err := readBody(c); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "failed to read body"))
		return
	}
	cb, err := line.ParseWebhook(h.cfg.ChannelSecret, c.Request)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			c.JSON(http.StatusUnauthorized, errorBody(CodeUnauthorized, "invalid line signature"))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}

	replied, err := h.events.HandleLineEvents(c.Request.Context(), cb)
	if err != nil {
		if errors.Is(err, notify.ErrUnexpectedPayload) {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
			return
		}
		h.log.Error().Err(err).Str("job", JobLineEvents).Msg("failed to handle line events")
		c.JSON(http.StatusInternalServerError, errorBody(CodeInternal, "failed to handle line events"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"replied": replied})
}
