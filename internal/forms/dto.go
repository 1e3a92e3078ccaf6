package forms

import (
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

// ===== Request =====

type PatientInput struct {
	// 空なら新規。既存の患者IDなら名前を更新する。
	ID   string `json:"id"`
	Name string `json:"name" binding:"required"`
}

type FormRequest struct {
	AdmittedAt      time.Time      `json:"admittedAt" binding:"required"`
	Zone            string         `json:"zone" binding:"required"`
	Address         string         `json:"address" binding:"required"`
	LandmarkNote    string         `json:"landmarkNote" binding:"required"`
	Phone           string         `json:"phone" binding:"required"`
	LineID          *string        `json:"lineId"`
	LineDisplayName *string        `json:"lineDisplayName"`
	LinePictureURL  *string        `json:"linePictureUrl"`
	Lat             *float64       `json:"lat"`
	Lng             *float64       `json:"lng"`
	Patients        []PatientInput `json:"patients" binding:"dive"`
}

type LocationRequest struct {
	ID  string   `json:"id" binding:"required"`
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// ===== Response =====

type PatientDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FormResponse struct {
	ID                       string       `json:"id"`
	CreatedAt                time.Time    `json:"createdAt"`
	UpdatedAt                time.Time    `json:"updatedAt"`
	AdmittedAt               time.Time    `json:"admittedAt"`
	TreatmentDayCount        int          `json:"treatmentDayCount"`
	Lat                      *float64     `json:"lat"`
	Lng                      *float64     `json:"lng"`
	Zone                     string       `json:"zone"`
	Address                  string       `json:"address"`
	LandmarkNote             *string      `json:"landmarkNote"`
	Phone                    string       `json:"phone"`
	LineID                   *string      `json:"lineId"`
	LineDisplayName          *string      `json:"lineDisplayName"`
	LinePictureURL           *string      `json:"linePictureUrl"`
	Patients                 []PatientDTO `json:"patients"`
	RecoveryDate             time.Time    `json:"recoveryDate"`
	CertificateAvailableDate time.Time    `json:"certificateAvailableDate"`
	LastServiceDate          time.Time    `json:"lastServiceDate"`
	HasRecovered             bool         `json:"hasRecovered"`
	Progress                 float64      `json:"progress"`
	HealthColor              string       `json:"healthColor"`
}

type DashboardResponse struct {
	Items []FormResponse `json:"items"`
	Zones []string       `json:"zones"`
}

type LocationResponse struct {
	ID              string   `json:"id"`
	Lat             *float64 `json:"lat"`
	Lng             *float64 `json:"lng"`
	LineDisplayName *string  `json:"lineDisplayName"`
}

// RecomputeResult: update-treatment-day-counts の集計
type RecomputeResult struct {
	Since     time.Time `json:"since"`
	Checked   int       `json:"checked"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Conflicts int       `json:"conflicts"`
}

// ===== mapping =====

func toFormResponse(f Form, calc *treatment.Calculator) FormResponse {
	patients := make([]PatientDTO, 0, len(f.Patients))
	for _, p := range f.Patients {
		patients = append(patients, PatientDTO{ID: p.ID, Name: p.Name})
	}
	return FormResponse{
		ID:                       f.ID,
		CreatedAt:                f.CreatedAt,
		UpdatedAt:                f.UpdatedAt,
		AdmittedAt:               f.AdmittedAt,
		TreatmentDayCount:        f.TreatmentDayCount,
		Lat:                      f.Lat,
		Lng:                      f.Lng,
		Zone:                     f.Zone,
		Address:                  f.Address,
		LandmarkNote:             f.LandmarkNote,
		Phone:                    f.Phone,
		LineID:                   f.LineID,
		LineDisplayName:          f.LineDisplayName,
		LinePictureURL:           f.LinePictureURL,
		Patients:                 patients,
		RecoveryDate:             calc.RecoveryDate(f.AdmittedAt),
		CertificateAvailableDate: calc.CertificateAvailableDate(f.AdmittedAt),
		LastServiceDate:          calc.LastServiceDate(f.AdmittedAt),
		HasRecovered:             calc.HasRecovered(f.AdmittedAt),
		Progress:                 calc.Progress(f.TreatmentDayCount),
		HealthColor:              healthColor(calc.Progress(f.TreatmentDayCount)),
	}
}

// 0.0 赤 → 0.5 黄 → 1.0 緑
var healthShades = []colorful.Color{
	mustHex("#f7797d"),
	mustHex("#fbd786"),
	mustHex("#c6ffdd"),
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// healthColor: ダッシュボードの色。healthShades を RGB で線形補間する。
func healthColor(progress float64) string {
	progress = math.Max(0, math.Min(1, progress))
	seg := progress * float64(len(healthShades)-1)
	i := int(seg)
	if i >= len(healthShades)-1 {
		i = len(healthShades) - 2
	}
	return healthShades[i].BlendRgb(healthShades[i+1], seg-float64(i)).Clamped().Hex()
}
