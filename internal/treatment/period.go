package treatment

import (
	"time"

	"github.com/rs/zerolog"
)

// Range は半開区間 [Since, Until)
type Range struct {
	Since time.Time
	Until time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Since) && t.Before(r.Until)
}

// ===== ActivePeriod =====

// ActivePeriod は「今日の時点で治療期間内か」を入所日の範囲として表す。
// 呼び出し側は境界計算をせず、ここで作った Range をそのままクエリに渡す。
type ActivePeriod struct {
	cal    Calendar
	policy Policy
	log    zerolog.Logger
}

func NewActivePeriod(cal Calendar, policy Policy, log zerolog.Logger) *ActivePeriod {
	return &ActivePeriod{cal: cal, policy: policy, log: log}
}

// DateSinceFirstDay: 今日の時点で (TreatmentDays - dayOffset) 日治療している人の入所日 00:00。
// dayOffset が範囲外でも止めずに警告だけ出す（呼び出し元は内部コードのみ）。
func (p *ActivePeriod) DateSinceFirstDay(dayOffset int) time.Time {
	if dayOffset < 0 || dayOffset > p.policy.TreatmentDays {
		p.log.Warn().
			Int("day_offset", dayOffset).
			Int("treatment_days", p.policy.TreatmentDays).
			Msg("day offset is outside of the treatment period")
	}
	return p.cal.SubtractDays(p.cal.Today(), p.policy.TreatmentDays-dayOffset)
}

// DateBeforeRecoveryDay: 今日の終わりから dayOffset 日前。期間の上限（開区間側）に使う。
func (p *ActivePeriod) DateBeforeRecoveryDay(dayOffset int) time.Time {
	return p.cal.SubtractDays(p.cal.EndOfDay(p.cal.Now()), dayOffset)
}

// FirstDate: まだ期間内にいる最も古い入所日
func (p *ActivePeriod) FirstDate() time.Time {
	return p.DateSinceFirstDay(0)
}

// ===== 通知ごとの範囲 =====

// ActiveTreatment: 入所当日と回復当日を除く治療中
func (p *ActivePeriod) ActiveTreatment() Range {
	return Range{Since: p.DateSinceFirstDay(1), Until: p.DateBeforeRecoveryDay(1)}
}

// RecoversToday: 今日が回復日
func (p *ActivePeriod) RecoversToday() Range {
	return Range{Since: p.DateSinceFirstDay(0), Until: p.DateSinceFirstDay(1)}
}

// RecoversTomorrow: 明日が回復日
func (p *ActivePeriod) RecoversTomorrow() Range {
	return Range{Since: p.DateSinceFirstDay(1), Until: p.DateSinceFirstDay(2)}
}

// DailyCheck: 毎日の健康・食事チェック（ActiveTreatment と同じ形）
func (p *ActivePeriod) DailyCheck() Range {
	return p.ActiveTreatment()
}

// RecomputeSince: treatment_day_count を再計算する対象の下限
func (p *ActivePeriod) RecomputeSince() time.Time {
	return p.DateSinceFirstDay(0)
}
