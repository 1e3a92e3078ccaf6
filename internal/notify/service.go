package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/rs/zerolog"

	"github.com/kanatamon/covid19-home-isolation/internal/contacts"
	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/metrics"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

// ジョブ名（webhook のパス・CLI の引数・ガードのキーに使う）
const (
	JobDailyTreatmentStatus      = "daily-treatment-status"
	JobDailyMealCheck            = "daily-meal-check"
	JobDailyHealthCheck          = "daily-health-check"
	JobEndOfTreatment            = "end-of-treatment"
	JobContactLocationSubmission = "contact-location-submission"
)

const (
	StatusDispatched        = "dispatched"
	StatusAlreadyDispatched = "already_dispatched"
)

type NotifyType string

const (
	NotifyEndTreatment          NotifyType = "END_TREATMENT"
	NotifyPrepareToEndTreatment NotifyType = "PREPARE_TO_END_TREATMENT"
)

var (
	ErrInvalidNotifyType = errors.New("notifyType must be either 'END_TREATMENT' or 'PREPARE_TO_END_TREATMENT'")
	ErrUnexpectedPayload = errors.New("unexpected payload")
)

func ParseNotifyType(s string) (NotifyType, error) {
	switch NotifyType(s) {
	case NotifyEndTreatment, NotifyPrepareToEndTreatment:
		return NotifyType(s), nil
	case "":
		return "", fmt.Errorf("%w: missing 'notifyType'", ErrInvalidNotifyType)
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidNotifyType, s)
	}
}

// Outcome: ジョブ1回分の結果
type Outcome struct {
	Job    string `json:"job"`
	RunID  string `json:"runId"`
	Status string `json:"status"`
	Result
}

// ===== Service =====

type Service struct {
	selector   *contacts.Selector
	messages   *Messages
	messenger  line.Messenger
	dispatcher *Dispatcher
	guard      Guard
	cal        treatment.Calendar
	metrics    *metrics.Metrics
	log        zerolog.Logger
	newRunID   func() string

	sendTimeout time.Duration
}

type Deps struct {
	Selector   *contacts.Selector
	Messages   *Messages
	Messenger  line.Messenger
	Dispatcher *Dispatcher
	Guard      Guard
	Calendar   treatment.Calendar
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	// SendTimeout: 送信フェーズ全体の上限。0 なら DefaultSendTimeout。
	SendTimeout time.Duration
}

func NewService(d Deps) *Service {
	guard := d.Guard
	if guard == nil {
		guard = NopGuard{}
	}
	sendTimeout := d.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Service{
		sendTimeout: sendTimeout,
		selector:    d.Selector,
		messages:    d.Messages,
		messenger:   d.Messenger,
		dispatcher:  d.Dispatcher,
		guard:       guard,
		cal:         d.Calendar,
		metrics:     d.Metrics,
		log:         d.Log,
		newRunID:    uuid.NewString,
	}
}

type fetchFunc func(ctx context.Context) ([]contacts.Contact, error)
type sendAllFunc func(ctx context.Context, cs []contacts.Contact) Result

// run: ガード取得 → 宛先取得 → 送信。宛先取得に失敗したらガードを戻す。
func (s *Service) run(ctx context.Context, job, key string, force bool, fetch fetchFunc, sendAll sendAllFunc) (Outcome, error) {
	out := Outcome{Job: job, RunID: s.newRunID()}
	day := s.cal.Today()
	start := time.Now()
	l := s.log.With().Str("job", job).Str("run_id", out.RunID).Logger()

	if !force {
		ok, err := s.guard.Acquire(ctx, key, day, out.RunID)
		if err != nil {
			s.metrics.Dispatches.WithLabelValues(job, "error").Inc()
			return out, err
		}
		if !ok {
			out.Status = StatusAlreadyDispatched
			s.metrics.Dispatches.WithLabelValues(job, StatusAlreadyDispatched).Inc()
			l.Info().Str("guard_key", key).Msg("already dispatched today, skipped")
			return out, nil
		}
	}

	cs, err := fetch(ctx)
	if err != nil {
		if !force {
			if rerr := s.guard.Release(ctx, key, day); rerr != nil {
				l.Error().Err(rerr).Msg("failed to release dispatch guard")
			}
		}
		s.metrics.Dispatches.WithLabelValues(job, "error").Inc()
		return out, fmt.Errorf("select contacts for %s: %w", job, err)
	}

	// ガード取得済みなので、呼び出し元が切断しても送信は最後まで行う
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()
	out.Result = sendAll(sendCtx, cs)
	out.Status = StatusDispatched
	s.metrics.Dispatches.WithLabelValues(job, StatusDispatched).Inc()
	s.metrics.DispatchDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	l.Info().
		Bool("forced", force).
		Int("total", out.Total).
		Int("sent", out.Sent).
		Int("failed", out.Failed).
		Msg("dispatch finished")
	return out, nil
}

func (s *Service) pushEach(job string, build func(contacts.Contact) line.Message) sendAllFunc {
	return func(ctx context.Context, cs []contacts.Contact) Result {
		return s.dispatcher.Dispatch(ctx, job, cs, build, PushSender(s.messenger))
	}
}

// ===== jobs =====

// DailyTreatmentStatus: 治療中の人に経過日数と患者一覧
func (s *Service) DailyTreatmentStatus(ctx context.Context, force bool) (Outcome, error) {
	return s.run(ctx, JobDailyTreatmentStatus, JobDailyTreatmentStatus, force,
		func(ctx context.Context) ([]contacts.Contact, error) {
			return s.selector.WithinActiveTreatmentPeriod(ctx, true)
		},
		s.pushEach(JobDailyTreatmentStatus, s.messages.TreatmentStatus))
}

func (s *Service) DailyMealCheck(ctx context.Context, force bool) (Outcome, error) {
	return s.run(ctx, JobDailyMealCheck, JobDailyMealCheck, force,
		func(ctx context.Context) ([]contacts.Contact, error) {
			return s.selector.DailyCheck(ctx, false)
		},
		s.pushEach(JobDailyMealCheck, s.messages.MealCheck))
}

func (s *Service) DailyHealthCheck(ctx context.Context, force bool) (Outcome, error) {
	return s.run(ctx, JobDailyHealthCheck, JobDailyHealthCheck, force,
		func(ctx context.Context) ([]contacts.Contact, error) {
			return s.selector.DailyCheck(ctx, false)
		},
		s.pushEach(JobDailyHealthCheck, s.messages.HealthCheck))
}

// EndOfTreatment: END_TREATMENT は今日回復、PREPARE_TO_END_TREATMENT は明日回復
func (s *Service) EndOfTreatment(ctx context.Context, nt NotifyType, force bool) (Outcome, error) {
	var fetch fetchFunc
	switch nt {
	case NotifyEndTreatment:
		fetch = func(ctx context.Context) ([]contacts.Contact, error) { return s.selector.RecoversToday(ctx, false) }
	case NotifyPrepareToEndTreatment:
		fetch = func(ctx context.Context) ([]contacts.Contact, error) { return s.selector.RecoversTomorrow(ctx, false) }
	default:
		return Outcome{Job: JobEndOfTreatment}, fmt.Errorf("%w: got %q", ErrInvalidNotifyType, nt)
	}
	key := JobEndOfTreatment + ":" + string(nt)
	return s.run(ctx, JobEndOfTreatment, key, force, fetch, s.pushEach(JobEndOfTreatment, s.messages.EndOfTreatment))
}

// ContactLocationSubmission: 位置未登録の人へ multicast（500件ずつ）
func (s *Service) ContactLocationSubmission(ctx context.Context, force bool) (Outcome, error) {
	job := JobContactLocationSubmission
	return s.run(ctx, job, job, force,
		func(ctx context.Context) ([]contacts.Contact, error) {
			return s.selector.NeverSubmittedLocation(ctx)
		},
		func(ctx context.Context, cs []contacts.Contact) Result {
			res := Result{Total: len(cs)}
			if len(cs) == 0 {
				return res
			}
			to := make([]string, 0, len(cs))
			for _, c := range cs {
				to = append(to, c.LineID)
			}
			if err := s.messenger.Multicast(ctx, to, s.messages.LocationRequest()); err != nil {
				res.Failed = len(to)
				s.metrics.Sends.WithLabelValues(job, "failed").Add(float64(len(to)))
				s.log.Warn().Err(err).Str("job", job).Int("recipients", len(to)).Msg("failed to multicast")
				return res
			}
			res.Sent = len(to)
			s.metrics.Sends.WithLabelValues(job, "sent").Add(float64(len(to)))
			return res
		})
}

// ===== line-events =====

// HandleLineEvents: 最後のイベントが画像なら受領メッセージを返信する。
// まとめ送信の画像は最後の1枚にだけ返信する。
func (s *Service) HandleLineEvents(ctx context.Context, cb *webhook.CallbackRequest) (replied bool, err error) {
	if cb == nil || len(cb.Events) == 0 {
		return false, fmt.Errorf("%w: no events", ErrUnexpectedPayload)
	}
	ev, ok := line.AsImageEvent(cb.Events[len(cb.Events)-1])
	if !ok || ev.ReplyToken == "" {
		return false, fmt.Errorf("%w: last event is not a replyable image message", ErrUnexpectedPayload)
	}
	if !ev.IsLastOfSet() {
		return false, nil
	}
	if err := s.messenger.ReplyMessage(ctx, ev.ReplyToken, s.messages.MeasurementsReceived()); err != nil {
		return false, fmt.Errorf("reply to image event: %w", err)
	}
	return true, nil
}
