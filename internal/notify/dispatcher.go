package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kanatamon/covid19-home-isolation/internal/contacts"
	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/metrics"
)

const (
	DefaultWorkers     = 8
	DefaultSendTimeout = 10 * time.Minute
)

// Result: 1回のジョブ実行の集計（レスポンスにそのまま返す）
type Result struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher: 宛先ごとの送信を並列に行い、全件の結果を待つ。
// 個別の失敗はログとカウントのみ（リトライしない・全体は止めない）。
type Dispatcher struct {
	workers int
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(workers int, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{workers: workers, log: log, metrics: m}
}

// SendFunc: 1件送る（PushMessage など）
type SendFunc func(ctx context.Context, to string, msg line.Message) error

func (d *Dispatcher) Dispatch(ctx context.Context, job string, cs []contacts.Contact, build func(contacts.Contact) line.Message, send SendFunc) Result {
	var sent, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, c := range cs {
		c := c
		g.Go(func() error {
			if err := send(ctx, c.LineID, build(c)); err != nil {
				failed.Add(1)
				d.metrics.Sends.WithLabelValues(job, "failed").Inc()
				d.log.Warn().Err(err).Str("job", job).Str("form_id", c.FormID).Msg("failed to send notification")
				return nil
			}
			sent.Add(1)
			d.metrics.Sends.WithLabelValues(job, "sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	return Result{Total: len(cs), Sent: int(sent.Load()), Failed: int(failed.Load())}
}

// PushSender: Messenger.PushMessage を SendFunc にする
func PushSender(m line.Messenger) SendFunc {
	return func(ctx context.Context, to string, msg line.Message) error {
		return m.PushMessage(ctx, to, msg)
	}
}
