package treatment

import (
	"time"
)

// ===== Clock =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// RealClock は壁時計を返す
func RealClock() Clock { return realClock{} }

// FixedClock: テスト・手動実行用（常に同じ時刻を返す）
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// ===== Calendar =====

// Calendar は日単位の計算をすべて1つのタイムゾーンで行う。
// 状態は持たないので値のままコピーして使ってよい。
type Calendar struct {
	clock Clock
	loc   *time.Location
}

func NewCalendar(clock Clock, loc *time.Location) Calendar {
	if clock == nil {
		clock = realClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{clock: clock, loc: loc}
}

func (c Calendar) Location() *time.Location { return c.loc }

// Now: 現在時刻（カレンダーのタイムゾーンで）
func (c Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

// Today: 今日の 00:00
func (c Calendar) Today() time.Time {
	return c.StartOfDay(c.clock.Now())
}

func (c Calendar) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// EndOfDay: 翌日 00:00 の 1ns 前
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.AddDays(c.StartOfDay(t), 1).Add(-time.Nanosecond)
}

// AddDays はカレンダー日で加算する（24h 単位ではない）。n は負でもよい。
func (c Calendar) AddDays(t time.Time, n int) time.Time {
	return t.In(c.loc).AddDate(0, 0, n)
}

func (c Calendar) SubtractDays(t time.Time, n int) time.Time {
	return c.AddDays(t, -n)
}

// DaysBetween: a - b を日数で返す。両方とも日の始まりに揃えてから比較するので
// 端数は出ない。
func (c Calendar) DaysBetween(a, b time.Time) int {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	// 夏時間の影響を受けないよう UTC の暦日同士で差を取る
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(da.Sub(db) / (24 * time.Hour))
}
