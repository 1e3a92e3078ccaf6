package contacts

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnexpectedShape: ストアが返した行に必須項目が欠けている。
// 黙って補正・除外せず、呼び出し元（通知トリガ）まで失敗として返す。
var ErrUnexpectedShape = errors.New("contact row has unexpected shape")

type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contact: 通知先として必要な最小限の項目
type Contact struct {
	FormID          string    `json:"formId"`
	AdmittedAt      time.Time `json:"admittedAt"`
	LineID          string    `json:"lineId"`
	LineDisplayName *string   `json:"lineDisplayName"`
	// IncludePatients のときだけ埋まる（0件でも空スライス）
	Patients []Patient `json:"patients,omitempty"`
}

// Record: MemoryStore が保持するフォーム1件分
type Record struct {
	ID              string
	AdmittedAt      time.Time
	LineID          *string
	LineDisplayName *string
	Lat             *float64
	Lng             *float64
	Patients        []Patient
}

// DB行（スキャン用）
type contactRow struct {
	ID              string
	AdmittedAt      sql.NullTime
	LineID          sql.NullString
	LineDisplayName sql.NullString
}

func (r contactRow) toModel() (Contact, error) {
	if !r.AdmittedAt.Valid {
		return Contact{}, fmt.Errorf("%w: form %s: admitted_at is null", ErrUnexpectedShape, r.ID)
	}
	if !r.LineID.Valid || r.LineID.String == "" {
		return Contact{}, fmt.Errorf("%w: form %s: line_id is empty", ErrUnexpectedShape, r.ID)
	}
	c := Contact{
		FormID:     r.ID,
		AdmittedAt: r.AdmittedAt.Time.UTC(),
		LineID:     r.LineID.String,
	}
	if r.LineDisplayName.Valid {
		name := r.LineDisplayName.String
		c.LineDisplayName = &name
	}
	return c, nil
}

type patientRow struct {
	ID          string
	Name        sql.NullString
	FormOwnerID string
}

func (r patientRow) toModel() (Patient, error) {
	if !r.Name.Valid {
		return Patient{}, fmt.Errorf("%w: patient %s: name is null", ErrUnexpectedShape, r.ID)
	}
	return Patient{ID: r.ID, Name: r.Name.String}, nil
}

// SortByAdmittedAt: 入所日時の昇順（同時刻の順序は不定）
func SortByAdmittedAt(cs []Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].AdmittedAt.Before(cs[j].AdmittedAt)
	})
}
