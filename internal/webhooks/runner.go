package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kanatamon/covid19-home-isolation/internal/forms"
	"github.com/kanatamon/covid19-home-isolation/internal/notify"
)

const JobUpdateTreatmentDayCounts = "update-treatment-day-counts"

var ErrUnknownJob = errors.New("unknown job")

// Options: トリガーの共通パラメータ
type Options struct {
	Force      bool
	NotifyType string
}

type JobFunc func(ctx context.Context, opts Options) (any, error)

// Runner: ジョブ名 → 実行関数。HTTP と CLI の両方から使う。
type Runner struct {
	jobs map[string]JobFunc
}

func NewRunner() *Runner {
	return &Runner{jobs: map[string]JobFunc{}}
}

func (r *Runner) Register(name string, fn JobFunc) {
	r.jobs[name] = fn
}

// Jobs: 登録済みジョブ名（ソート済み）
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Runner) Run(ctx context.Context, name string, opts Options) (any, error) {
	fn, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return fn(ctx, opts)
}

// NewDefaultRunner: 通知ジョブ5種 + 日数再計算
func NewDefaultRunner(n *notify.Service, f *forms.Service) *Runner {
	r := NewRunner()
	r.Register(notify.JobDailyTreatmentStatus, func(ctx context.Context, o Options) (any, error) {
		return n.DailyTreatmentStatus(ctx, o.Force)
	})
	r.Register(notify.JobDailyMealCheck, func(ctx context.Context, o Options) (any, error) {
		return n.DailyMealCheck(ctx, o.Force)
	})
	r.Register(notify.JobDailyHealthCheck, func(ctx context.Context, o Options) (any, error) {
		return n.DailyHealthCheck(ctx, o.Force)
	})
	r.Register(notify.JobEndOfTreatment, func(ctx context.Context, o Options) (any, error) {
		nt, err := notify.ParseNotifyType(o.NotifyType)
		if err != nil {
			return nil, err
		}
		return n.EndOfTreatment(ctx, nt, o.Force)
	})
	r.Register(notify.JobContactLocationSubmission, func(ctx context.Context, o Options) (any, error) {
		return n.ContactLocationSubmission(ctx, o.Force)
	})
	// CAS で冪等なので force は無関係
	r.Register(JobUpdateTreatmentDayCounts, func(ctx context.Context, _ Options) (any, error) {
		return f.RecomputeTreatmentDayCounts(ctx)
	})
	return r
}
