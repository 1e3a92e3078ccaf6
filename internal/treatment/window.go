package treatment

import (
	"errors"
	"fmt"
	"time"
)

const DefaultHandOffHour = 6

var ErrInvalidPolicy = errors.New("invalid treatment policy")

// Policy は治療期間に関する設定値をまとめたもの。
// オフセットはすべて「回復日」からの相対日数（符号付き）。
type Policy struct {
	TreatmentDays         int
	CertificateOffsetDays int
	LastServiceOffsetDays int
	HandOffHour           int
}

func (p Policy) Validate() error {
	if p.TreatmentDays <= 0 {
		return fmt.Errorf("%w: treatment days must be > 0, got %d", ErrInvalidPolicy, p.TreatmentDays)
	}
	if p.HandOffHour < 0 || p.HandOffHour > 23 {
		return fmt.Errorf("%w: hand-off hour must be in [0, 23], got %d", ErrInvalidPolicy, p.HandOffHour)
	}
	return nil
}

// ===== Calculator =====

// Calculator は入所日時から各マイルストーン日を求める。
type Calculator struct {
	cal    Calendar
	policy Policy
}

func NewCalculator(cal Calendar, policy Policy) *Calculator {
	return &Calculator{cal: cal, policy: policy}
}

func (c *Calculator) Policy() Policy     { return c.policy }
func (c *Calculator) Calendar() Calendar { return c.cal }

// TreatmentDayCount: 入所日から今日までの経過日数を [0, TreatmentDays] に丸めて返す。
// 毎回計算し直す（キャッシュはDBの treatment_day_count 列だけ）。
func (c *Calculator) TreatmentDayCount(admittedAt time.Time) int {
	days := c.cal.DaysBetween(c.cal.Today(), c.cal.StartOfDay(admittedAt))
	return clamp(days, 0, c.policy.TreatmentDays)
}

// RecoveryDate: 入所日 + TreatmentDays 日、時刻は引き継ぎ時刻（既定 06:00）に固定。
// now には依存しない。
func (c *Calculator) RecoveryDate(admittedAt time.Time) time.Time {
	d := c.cal.AddDays(admittedAt, c.policy.TreatmentDays)
	y, m, day := d.Date()
	return time.Date(y, m, day, c.policy.HandOffHour, 0, 0, 0, c.cal.Location())
}

// CertificateAvailableDate: 診断書を受け取れる日（回復日からの相対）
func (c *Calculator) CertificateAvailableDate(admittedAt time.Time) time.Time {
	return c.cal.AddDays(c.RecoveryDate(admittedAt), c.policy.CertificateOffsetDays)
}

// LastServiceDate: 食事・薬の配達最終日（回復日からの相対）
func (c *Calculator) LastServiceDate(admittedAt time.Time) time.Time {
	return c.cal.AddDays(c.RecoveryDate(admittedAt), c.policy.LastServiceOffsetDays)
}

// HasRecoveredAsOf は表示用（通知の条件には使わない）
func (c *Calculator) HasRecoveredAsOf(admittedAt, now time.Time) bool {
	return now.After(c.RecoveryDate(admittedAt))
}

func (c *Calculator) HasRecovered(admittedAt time.Time) bool {
	return c.HasRecoveredAsOf(admittedAt, c.cal.Now())
}

// Progress: ダッシュボードの色分け用 0.0〜1.0
func (c *Calculator) Progress(treatmentDayCount int) float64 {
	n := clamp(treatmentDayCount, 0, c.policy.TreatmentDays)
	return float64(n) / float64(c.policy.TreatmentDays)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
