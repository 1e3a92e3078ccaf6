package contacts

import (
	"context"

	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

// Selector: 通知ごとの条件で Store を引く。範囲の計算は ActivePeriod に任せる。
type Selector struct {
	store  Store
	period *treatment.ActivePeriod
}

func NewSelector(store Store, period *treatment.ActivePeriod) *Selector {
	return &Selector{store: store, period: period}
}

// WithinActiveTreatmentPeriod: 入所当日・回復当日を除く治療中
func (s *Selector) WithinActiveTreatmentPeriod(ctx context.Context, includePatients bool) ([]Contact, error) {
	r := s.period.ActiveTreatment()
	return s.store.Select(ctx, Filter{Range: &r, IncludePatients: includePatients})
}

func (s *Selector) RecoversToday(ctx context.Context, includePatients bool) ([]Contact, error) {
	r := s.period.RecoversToday()
	return s.store.Select(ctx, Filter{Range: &r, IncludePatients: includePatients})
}

func (s *Selector) RecoversTomorrow(ctx context.Context, includePatients bool) ([]Contact, error) {
	r := s.period.RecoversTomorrow()
	return s.store.Select(ctx, Filter{Range: &r, IncludePatients: includePatients})
}

// NeverSubmittedLocation: 位置情報が未送信（lat/lng とも NULL）。日付条件なし。
func (s *Selector) NeverSubmittedLocation(ctx context.Context) ([]Contact, error) {
	return s.store.Select(ctx, Filter{WithoutLocation: true})
}

// DailyCheck: 毎日の食事・健康チェック
func (s *Selector) DailyCheck(ctx context.Context, includePatients bool) ([]Contact, error) {
	r := s.period.DailyCheck()
	return s.store.Select(ctx, Filter{Range: &r, IncludePatients: includePatients})
}
