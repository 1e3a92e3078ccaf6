package forms

import (
	"database/sql"
	"time"
)

// Zones: 受付可能な担当区域
var Zones = []string{"รพ.ค่าย", "มทบ.43", "กองพล ร.5", "บชร.4", "พัน.ขส"}

func validZone(z string) bool {
	for _, v := range Zones {
		if v == z {
			return true
		}
	}
	return false
}

type Patient struct {
	ID   string
	Name string
}

// Form: home_isolation_forms の1行 + patients
type Form struct {
	ID                string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	AdmittedAt        time.Time
	TreatmentDayCount int
	Lat               *float64
	Lng               *float64
	Zone              string
	Address           string
	LandmarkNote      *string
	Phone             string
	LineID            *string
	LineDisplayName   *string
	LinePictureURL    *string
	Patients          []Patient
}

// HasLocation: lat/lng の両方が登録済み
func (f Form) HasLocation() bool { return f.Lat != nil && f.Lng != nil }

type formRow struct {
	ID                string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	AdmittedAt        time.Time
	TreatmentDayCount int
	Lat               sql.NullFloat64
	Lng               sql.NullFloat64
	Zone              string
	Address           string
	LandmarkNote      sql.NullString
	Phone             string
	LineID            sql.NullString
	LineDisplayName   sql.NullString
	LinePictureURL    sql.NullString
}

func (r formRow) toModel() Form {
	return Form{
		ID:                r.ID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		AdmittedAt:        r.AdmittedAt,
		TreatmentDayCount: r.TreatmentDayCount,
		Lat:               nullFloat(r.Lat),
		Lng:               nullFloat(r.Lng),
		Zone:              r.Zone,
		Address:           r.Address,
		LandmarkNote:      nullString(r.LandmarkNote),
		Phone:             r.Phone,
		LineID:            nullString(r.LineID),
		LineDisplayName:   nullString(r.LineDisplayName),
		LinePictureURL:    nullString(r.LinePictureURL),
	}
}

// DayCount: 日数再計算用の最小限の列
type DayCount struct {
	ID                string
	AdmittedAt        time.Time
	TreatmentDayCount int
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func toNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func toNullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
