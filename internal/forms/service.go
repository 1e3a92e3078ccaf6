package forms

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/notify"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/db"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/metrics"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

// DashboardSize: 管理画面に出す件数
const DashboardSize = 20

// ===== インターフェース群 =====

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== Service本体 =====

type Deps struct {
	DB         *sql.DB
	Calculator *treatment.Calculator
	Period     *treatment.ActivePeriod
	Messenger  line.Messenger
	Messages   *notify.Messages
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
}

type Service struct {
	db        *sql.DB
	store     *Store
	calc      *treatment.Calculator
	period    *treatment.ActivePeriod
	messenger line.Messenger
	messages  *notify.Messages
	metrics   *metrics.Metrics
	id        IDGen
	log       zerolog.Logger
}

func NewService(d Deps) *Service {
	m := d.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		db:        d.DB,
		store:     NewStore(d.DB),
		calc:      d.Calculator,
		period:    d.Period,
		messenger: d.Messenger,
		messages:  d.Messages,
		metrics:   m,
		id:        ulidGen{},
		log:       d.Log.With().Str("component", "forms").Logger(),
	}
}

// ===== validation =====

func validateLocation(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return ErrInvalid("lat and lng must be given together")
	}
	if lat == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 {
		return ErrInvalid("lat must be within [-90, 90]")
	}
	if *lng < -180 || *lng > 180 {
		return ErrInvalid("lng must be within [-180, 180]")
	}
	return nil
}

func validateRequest(req FormRequest) error {
	if req.AdmittedAt.IsZero() {
		return ErrInvalid("admittedAt is required")
	}
	if !validZone(req.Zone) {
		return ErrInvalid(fmt.Sprintf("zone must be one of %s", strings.Join(Zones, ", ")))
	}
	if strings.TrimSpace(req.Address) == "" {
		return ErrInvalid("address is required")
	}
	if strings.TrimSpace(req.LandmarkNote) == "" {
		return ErrInvalid("landmarkNote is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return ErrInvalid("phone is required")
	}
	if req.LineID != nil && strings.TrimSpace(*req.LineID) == "" {
		return ErrInvalid("lineId must not be empty")
	}
	for i, p := range req.Patients {
		if strings.TrimSpace(p.Name) == "" {
			return ErrInvalid(fmt.Sprintf("patients[%d].name is required", i))
		}
	}
	return validateLocation(req.Lat, req.Lng)
}

// buildForm: リクエストからフォームを組み立てる。治療日数は必ず Calculator を通す。
func (s *Service) buildForm(id string, req FormRequest) Form {
	note := strings.TrimSpace(req.LandmarkNote)
	f := Form{
		ID:                id,
		AdmittedAt:        req.AdmittedAt.UTC(),
		TreatmentDayCount: s.calc.TreatmentDayCount(req.AdmittedAt),
		Lat:               req.Lat,
		Lng:               req.Lng,
		Zone:              req.Zone,
		Address:           strings.TrimSpace(req.Address),
		LandmarkNote:      &note,
		Phone:             strings.TrimSpace(req.Phone),
		LineID:            req.LineID,
		LineDisplayName:   req.LineDisplayName,
		LinePictureURL:    req.LinePictureURL,
	}
	if f.LineDisplayName != nil {
		n := norm.NFC.String(*f.LineDisplayName)
		f.LineDisplayName = &n
	}
	return f
}

// assignPatients: 既存の患者IDだけ引き継ぎ、それ以外は新しいIDを振る
func (s *Service) assignPatients(in []PatientInput, existing []Patient) ([]Patient, error) {
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.ID] = true
	}
	out := make([]Patient, 0, len(in))
	for _, p := range in {
		id := p.ID
		if !known[id] {
			var err error
			if id, err = s.id.New(); err != nil {
				return nil, err
			}
		}
		known[id] = false // 同じIDが2回来たら2件目は新規扱い
		out = append(out, Patient{ID: id, Name: norm.NFC.String(strings.TrimSpace(p.Name))})
	}
	return out, nil
}

// push: 失敗してもリクエストは成功扱い。ログには LINE ID ではなくフォームIDを残す。
func (s *Service) push(ctx context.Context, formID, to string, msg line.Message) {
	if s.messenger == nil {
		return
	}
	if err := s.messenger.PushMessage(context.WithoutCancel(ctx), to, msg); err != nil {
		s.log.Warn().Err(err).Str("form_id", formID).Msg("push failed")
	}
}

func displayName(f Form) string {
	if f.LineDisplayName != nil {
		return *f.LineDisplayName
	}
	if len(f.Patients) > 0 {
		return f.Patients[0].Name
	}
	return ""
}

// ===== forms (admin) =====

// CreateForm: 職員による登録
func (s *Service) CreateForm(ctx context.Context, req FormRequest) (*FormResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	id, err := s.id.New()
	if err != nil {
		return nil, err
	}
	f := s.buildForm(id, req)
	if f.Patients, err = s.assignPatients(req.Patients, nil); err != nil {
		return nil, err
	}

	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		if err := st.InsertForm(ctx, &f); err != nil {
			return err
		}
		return st.UpsertPatients(ctx, f.ID, f.Patients)
	})
	if err != nil {
		return nil, err
	}
	return s.GetForm(ctx, id)
}

func (s *Service) GetForm(ctx context.Context, id string) (*FormResponse, error) {
	f, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound("form not found")
	}
	res := toFormResponse(*f, s.calc)
	return &res, nil
}

// UpdateForm: 患者リストは置き換え（送られてこなかった患者は削除）
func (s *Service) UpdateForm(ctx context.Context, id string, req FormRequest) (*FormResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		ok, err := st.LockForm(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound("form not found")
		}
		current, err := st.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNotFound("form not found")
		}

		f := s.buildForm(id, req)
		if f.Patients, err = s.assignPatients(req.Patients, current.Patients); err != nil {
			return err
		}
		if err := st.UpdateForm(ctx, &f); err != nil {
			return err
		}
		keep := make([]string, 0, len(f.Patients))
		for _, p := range f.Patients {
			keep = append(keep, p.ID)
		}
		if err := st.DeletePatientsExcept(ctx, id, keep); err != nil {
			return err
		}
		return st.UpsertPatients(ctx, id, f.Patients)
	})
	if err != nil {
		return nil, err
	}
	return s.GetForm(ctx, id)
}

func (s *Service) DeleteForm(ctx context.Context, id string) error {
	ok, err := s.store.DeleteForm(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound("form not found")
	}
	return nil
}

// Dashboard: 入所日時の新しい順に DashboardSize 件
func (s *Service) Dashboard(ctx context.Context) (*DashboardResponse, error) {
	forms, err := s.store.ListRecent(ctx, DashboardSize)
	if err != nil {
		return nil, err
	}
	items := make([]FormResponse, 0, len(forms))
	for _, f := range forms {
		items = append(items, toFormResponse(f, s.calc))
	}
	return &DashboardResponse{Items: items, Zones: Zones}, nil
}

// ===== contacts (LINE user) =====

// CreateOwnContact: LINE ユーザー本人によるフォーム登録。1ユーザー1件まで。
func (s *Service) CreateOwnContact(ctx context.Context, userLineID string, req FormRequest) (*FormResponse, error) {
	existing, err := s.store.FindByLineID(ctx, userLineID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUnprocessable("You already have submitted the contact form.")
	}
	if req.LineID == nil || *req.LineID != userLineID {
		return nil, ErrUnauthorized("You can't create new form of other user.")
	}

	res, err := s.CreateForm(ctx, req)
	if err != nil {
		return nil, err
	}

	name := ""
	if res.LineDisplayName != nil {
		name = *res.LineDisplayName
	}
	s.push(ctx, res.ID, userLineID, s.messages.Welcome(name))
	return res, nil
}

func (s *Service) GetOwnLocation(ctx context.Context, userLineID string) (*LocationResponse, error) {
	f, err := s.store.FindByLineID(ctx, userLineID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrUnprocessable("You must submit contact before submit location.")
	}
	return &LocationResponse{ID: f.ID, Lat: f.Lat, Lng: f.Lng, LineDisplayName: f.LineDisplayName}, nil
}

// SubmitLocation: 自分のフォームにだけ位置情報を登録できる
func (s *Service) SubmitLocation(ctx context.Context, userLineID string, req LocationRequest) (*LocationResponse, error) {
	if req.Lat == nil || req.Lng == nil {
		return nil, ErrInvalid("lat and lng are required")
	}
	if err := validateLocation(req.Lat, req.Lng); err != nil {
		return nil, err
	}

	f, err := s.store.FindByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrUnprocessable("You must submit contact before submit location.")
	}
	if f.LineID == nil || *f.LineID != userLineID {
		return nil, ErrUnauthorized(fmt.Sprintf("Can't access formId: '%s'.", req.ID))
	}

	if err := s.store.UpdateLocation(ctx, f.ID, *req.Lat, *req.Lng); err != nil {
		return nil, err
	}
	s.push(ctx, f.ID, userLineID, s.messages.LocationThanks(displayName(*f)))

	return &LocationResponse{ID: f.ID, Lat: req.Lat, Lng: req.Lng, LineDisplayName: f.LineDisplayName}, nil
}

// ===== treatment day count =====

// RecomputeTreatmentDayCounts: 治療期間内のフォームの日数を CAS で更新する。
// 同時に複数回走っても同じ値に収束する。
func (s *Service) RecomputeTreatmentDayCounts(ctx context.Context) (*RecomputeResult, error) {
	since := s.period.RecomputeSince()
	rows, err := s.store.ListDayCountsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	res := &RecomputeResult{Since: since, Checked: len(rows)}
	for _, r := range rows {
		next := s.calc.TreatmentDayCount(r.AdmittedAt)
		if next == r.TreatmentDayCount {
			res.Unchanged++
			s.metrics.Recomputes.WithLabelValues("unchanged").Inc()
			continue
		}
		ok, err := s.store.CompareAndSwapDayCount(ctx, r.ID, r.TreatmentDayCount, next)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Updated++
			s.metrics.Recomputes.WithLabelValues("updated").Inc()
		} else {
			res.Conflicts++
			s.metrics.Recomputes.WithLabelValues("conflict").Inc()
		}
	}

	s.log.Info().
		Time("since", since).
		Int("checked", res.Checked).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("conflicts", res.Conflicts).
		Msg("treatment day counts recomputed")
	return res, nil
}
