package forms

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/notify"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/metrics"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

var ict = time.FixedZone("ICT", 7*60*60)

var now = time.Date(2026, 10, 19, 14, 37, 0, 0, ict)

func daysAgo(n int) time.Time {
	return time.Date(2026, 10, 19, 6, 0, 0, 0, ict).AddDate(0, 0, -n)
}

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }

var mysqlDuplicate = mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'U1' for key 'uq_forms_line_id'"}

type timeArg time.Time

func (a timeArg) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && t.Equal(time.Time(a))
}

// ===== fakes =====

type seqIDs struct{ n int }

func (g *seqIDs) New() (string, error) {
	g.n++
	return fmt.Sprintf("P-%d", g.n), nil
}

type fakeMessenger struct {
	mu     sync.Mutex
	pushed map[string][]line.Message
	fail   bool
}

func (f *fakeMessenger) PushMessage(_ context.Context, to string, msgs ...line.Message) error {
	if f.fail {
		return errors.New("line api error: status=500")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[to] = append(f.pushed[to], msgs...)
	return nil
}

func (f *fakeMessenger) Multicast(context.Context, []string, ...line.Message) error { return nil }

func (f *fakeMessenger) ReplyMessage(context.Context, string, ...line.Message) error { return nil }

type fixture struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	conn      *sql.DB
	messenger *fakeMessenger
	metrics   *metrics.Metrics
	logs      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cal := treatment.NewCalendar(treatment.FixedClock(now), ict)
	policy := treatment.Policy{TreatmentDays: 10, CertificateOffsetDays: 1, LastServiceOffsetDays: -1, HandOffHour: 6}
	calc := treatment.NewCalculator(cal, policy)
	m := metrics.NewNop()
	msgr := &fakeMessenger{pushed: map[string][]line.Message{}}
	var logs bytes.Buffer

	svc := NewService(Deps{
		DB:         conn,
		Calculator: calc,
		Period:     treatment.NewActivePeriod(cal, policy, zerolog.Nop()),
		Messenger:  msgr,
		Messages:   notify.NewMessages(calc, func(p string) string { return "https://liff.line.me/x?visitTo=" + p }),
		Metrics:    m,
		Log:        zerolog.New(&logs),
	})
	svc.id = &seqIDs{}
	return &fixture{svc: svc, mock: mock, conn: conn, messenger: msgr, metrics: m, logs: &logs}
}

var formCols = []string{
	"id", "created_at", "updated_at", "admitted_at", "treatment_day_count", "lat", "lng",
	"zone", "address", "landmark_note", "phone", "line_id", "line_display_name", "line_picture_url",
}

func formRowValues(id string, admitted time.Time, count int, lineID any) []driver.Value {
	ts := now.UTC()
	return []driver.Value{
		id, ts, ts, admitted.UTC(), count, nil, nil,
		"มทบ.43", "99/1 Moo 2", "near the temple", "0812345678", lineID, "Somchai", nil,
	}
}

func expectFindForm(mock sqlmock.Sqlmock, id string, admitted time.Time, count int, lineID any, patients [][2]string) {
	mock.ExpectQuery("FROM home_isolation_forms WHERE id = \\?").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(formCols).AddRow(formRowValues(id, admitted, count, lineID)...))
	rows := sqlmock.NewRows([]string{"id", "name", "form_owner_id"})
	for _, p := range patients {
		rows.AddRow(p[0], p[1], id)
	}
	mock.ExpectQuery("FROM `patients`").WithArgs(id).WillReturnRows(rows)
}

func validRequest() FormRequest {
	return FormRequest{
		AdmittedAt:      daysAgo(3),
		Zone:            "มทบ.43",
		Address:         " 99/1 Moo 2 ",
		LandmarkNote:    "near the temple",
		Phone:           "0812345678",
		LineID:          strp("U1"),
		LineDisplayName: strp("Somchai"),
		Patients:        []PatientInput{{Name: "Malee"}, {Name: "Somsak"}},
	}
}

// ===== validation =====

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *FormRequest)
		ok     bool
	}{
		{"valid", func(r *FormRequest) {}, true},
		{"unknown zone", func(r *FormRequest) { r.Zone = "Bangkok" }, false},
		{"blank address", func(r *FormRequest) { r.Address = "  " }, false},
		{"blank phone", func(r *FormRequest) { r.Phone = "" }, false},
		{"empty lineId", func(r *FormRequest) { r.LineID = strp("") }, false},
		{"lat without lng", func(r *FormRequest) { r.Lat = f64p(8.02) }, false},
		{"lat out of range", func(r *FormRequest) { r.Lat, r.Lng = f64p(91), f64p(99.6) }, false},
		{"location given", func(r *FormRequest) { r.Lat, r.Lng = f64p(8.0294121), f64p(99.6502966) }, true},
		{"blank patient name", func(r *FormRequest) { r.Patients[1].Name = " " }, false},
		{"no admittedAt", func(r *FormRequest) { r.AdmittedAt = time.Time{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := validateRequest(req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(err))
		})
	}
}

func TestAssignPatients_KeepsOnlyOwnIDs(t *testing.T) {
	fx := newFixture(t)
	existing := []Patient{{ID: "A", Name: "Malee"}, {ID: "B", Name: "Somsak"}}

	got, err := fx.svc.assignPatients([]PatientInput{
		{ID: "A", Name: "Malee K."},
		{ID: "X-other-form", Name: "Noi"},
		{ID: "", Name: "Lek"},
		{ID: "A", Name: "duplicate"},
	}, existing)
	require.NoError(t, err)

	assert.Equal(t, []Patient{
		{ID: "A", Name: "Malee K."},
		{ID: "P-1", Name: "Noi"},
		{ID: "P-2", Name: "Lek"},
		{ID: "P-3", Name: "duplicate"},
	}, got)
}

func TestHealthColor(t *testing.T) {
	assert.Equal(t, "#f7797d", healthColor(0))
	assert.Equal(t, "#fbd786", healthColor(0.5))
	assert.Equal(t, "#c6ffdd", healthColor(1))
	assert.Equal(t, "#c6ffdd", healthColor(1.7))
	assert.Equal(t, "#f7797d", healthColor(-1))
}

// ===== forms =====

func TestCreateForm_WritesFormAndPatientsInOneTx(t *testing.T) {
	fx := newFixture(t)
	req := validRequest()

	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("INSERT INTO home_isolation_forms").
		WithArgs("P-1", timeArg(req.AdmittedAt), 3, nil, nil, "มทบ.43", "99/1 Moo 2", "near the temple",
			"0812345678", "U1", "Somchai", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("INSERT INTO `patients`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 2))
	fx.mock.ExpectCommit()
	expectFindForm(fx.mock, "P-1", req.AdmittedAt, 3, "U1", [][2]string{{"P-2", "Malee"}, {"P-3", "Somsak"}})

	res, err := fx.svc.CreateForm(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "P-1", res.ID)
	assert.Equal(t, 3, res.TreatmentDayCount)
	assert.Len(t, res.Patients, 2)
	assert.Equal(t, time.Date(2026, 10, 26, 6, 0, 0, 0, ict), res.RecoveryDate)
	assert.False(t, res.HasRecovered)
	assert.InDelta(t, 0.3, res.Progress, 1e-9)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateForm_DuplicateLineIDIsConflict(t *testing.T) {
	fx := newFixture(t)

	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("INSERT INTO home_isolation_forms").
		WillReturnError(&mysqlDuplicate)
	fx.mock.ExpectRollback()

	_, err := fx.svc.CreateForm(context.Background(), validRequest())
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(err))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestCreateForm_DayCountIsClamped(t *testing.T) {
	fx := newFixture(t)
	req := validRequest()
	req.AdmittedAt = daysAgo(40)

	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("INSERT INTO home_isolation_forms").
		WithArgs(sqlmock.AnyArg(), timeArg(req.AdmittedAt), 10, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("INSERT INTO `patients`").WillReturnResult(sqlmock.NewResult(0, 2))
	fx.mock.ExpectCommit()
	expectFindForm(fx.mock, "P-1", req.AdmittedAt, 10, "U1", nil)

	res, err := fx.svc.CreateForm(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.HasRecovered)
	assert.Equal(t, []PatientDTO{}, res.Patients)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateForm_ReplacesPatientList(t *testing.T) {
	fx := newFixture(t)
	req := validRequest()
	req.AdmittedAt = daysAgo(4)
	req.Patients = []PatientInput{{ID: "A", Name: "Malee K."}, {Name: "Noi"}}

	fx.mock.ExpectBegin()
	fx.mock.ExpectQuery("SELECT id FROM home_isolation_forms WHERE id = \\? FOR UPDATE").
		WithArgs("F1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("F1"))
	expectFindForm(fx.mock, "F1", daysAgo(3), 3, "U1", [][2]string{{"A", "Malee"}, {"B", "Somsak"}})
	fx.mock.ExpectExec("UPDATE home_isolation_forms").
		WithArgs(timeArg(req.AdmittedAt), 4, nil, nil, "มทบ.43", "99/1 Moo 2", "near the temple",
			"0812345678", "U1", "Somchai", nil, "F1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("DELETE FROM `patients`.*NOT IN").
		WithArgs("F1", "A", "P-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("INSERT INTO `patients`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 2))
	fx.mock.ExpectCommit()
	expectFindForm(fx.mock, "F1", req.AdmittedAt, 4, "U1", [][2]string{{"A", "Malee K."}, {"P-1", "Noi"}})

	res, err := fx.svc.UpdateForm(context.Background(), "F1", req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.TreatmentDayCount)
	assert.Equal(t, []PatientDTO{{ID: "A", Name: "Malee K."}, {ID: "P-1", Name: "Noi"}}, res.Patients)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateForm_EmptyPatientListDeletesAll(t *testing.T) {
	fx := newFixture(t)
	req := validRequest()
	req.Patients = nil

	fx.mock.ExpectBegin()
	fx.mock.ExpectQuery("FOR UPDATE").WithArgs("F1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("F1"))
	expectFindForm(fx.mock, "F1", daysAgo(3), 3, "U1", [][2]string{{"A", "Malee"}})
	fx.mock.ExpectExec("UPDATE home_isolation_forms").WillReturnResult(sqlmock.NewResult(0, 0))
	fx.mock.ExpectExec("DELETE FROM `patients`").WithArgs("F1").WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectCommit()
	expectFindForm(fx.mock, "F1", daysAgo(3), 3, "U1", nil)

	res, err := fx.svc.UpdateForm(context.Background(), "F1", req)
	require.NoError(t, err)
	assert.Empty(t, res.Patients)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestUpdateForm_MissingFormRollsBack(t *testing.T) {
	fx := newFixture(t)

	fx.mock.ExpectBegin()
	fx.mock.ExpectQuery("FOR UPDATE").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	fx.mock.ExpectRollback()

	_, err := fx.svc.UpdateForm(context.Background(), "nope", validRequest())
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(err))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDeleteForm(t *testing.T) {
	fx := newFixture(t)
	fx.mock.ExpectExec("DELETE FROM home_isolation_forms WHERE id = \\?").WithArgs("F1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("DELETE FROM home_isolation_forms WHERE id = \\?").WithArgs("F1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, fx.svc.DeleteForm(context.Background(), "F1"))
	err := fx.svc.DeleteForm(context.Background(), "F1")
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(err))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestDashboard_NewestFirstWithDerivedFields(t *testing.T) {
	fx := newFixture(t)
	fx.mock.ExpectQuery("ORDER BY admitted_at DESC, id DESC LIMIT \\?").
		WithArgs(DashboardSize).
		WillReturnRows(sqlmock.NewRows(formCols).
			AddRow(formRowValues("F2", daysAgo(1), 1, "U2")...).
			AddRow(formRowValues("F1", daysAgo(12), 10, nil)...))
	fx.mock.ExpectQuery("FROM `patients`").WithArgs("F2", "F1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "form_owner_id"}).
			AddRow("P1", "Malee", "F1"))

	res, err := fx.svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	assert.Equal(t, "F2", res.Items[0].ID)
	assert.False(t, res.Items[0].HasRecovered)
	assert.Empty(t, res.Items[0].Patients)
	assert.True(t, res.Items[1].HasRecovered)
	assert.Equal(t, 1.0, res.Items[1].Progress)
	assert.Equal(t, "Malee", res.Items[1].Patients[0].Name)
	assert.Equal(t, Zones, res.Zones)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

// ===== contacts (LINE user) =====

func TestCreateOwnContact(t *testing.T) {
	t.Run("second form is unprocessable", func(t *testing.T) {
		fx := newFixture(t)
		fx.mock.ExpectQuery("WHERE line_id = \\?").WithArgs("U1").
			WillReturnRows(sqlmock.NewRows(formCols).AddRow(formRowValues("F1", daysAgo(2), 2, "U1")...))
		fx.mock.ExpectQuery("FROM `patients`").WillReturnRows(sqlmock.NewRows([]string{"id", "name", "form_owner_id"}))

		_, err := fx.svc.CreateOwnContact(context.Background(), "U1", validRequest())
		assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(err))
		assert.Empty(t, fx.messenger.pushed)
	})

	t.Run("form of another user is unauthorized", func(t *testing.T) {
		fx := newFixture(t)
		fx.mock.ExpectQuery("WHERE line_id = \\?").WithArgs("U9").
			WillReturnRows(sqlmock.NewRows(formCols))

		_, err := fx.svc.CreateOwnContact(context.Background(), "U9", validRequest())
		assert.Equal(t, http.StatusUnauthorized, ToHTTPStatus(err))
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("creates and welcomes", func(t *testing.T) {
		fx := newFixture(t)
		req := validRequest()
		fx.mock.ExpectQuery("WHERE line_id = \\?").WithArgs("U1").
			WillReturnRows(sqlmock.NewRows(formCols))
		fx.mock.ExpectBegin()
		fx.mock.ExpectExec("INSERT INTO home_isolation_forms").WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("INSERT INTO `patients`").WillReturnResult(sqlmock.NewResult(0, 2))
		fx.mock.ExpectCommit()
		expectFindForm(fx.mock, "P-1", req.AdmittedAt, 3, "U1", nil)

		res, err := fx.svc.CreateOwnContact(context.Background(), "U1", req)
		require.NoError(t, err)
		assert.Equal(t, "P-1", res.ID)
		require.Len(t, fx.messenger.pushed["U1"], 1)
		txt, ok := fx.messenger.pushed["U1"][0].(*messaging_api.TextMessage)
		require.True(t, ok)
		assert.Contains(t, txt.Text, "Somchai")
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})
}

func TestGetOwnLocation_RequiresForm(t *testing.T) {
	fx := newFixture(t)
	fx.mock.ExpectQuery("WHERE line_id = \\?").WithArgs("U1").
		WillReturnRows(sqlmock.NewRows(formCols))

	_, err := fx.svc.GetOwnLocation(context.Background(), "U1")
	assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(err))
}

func TestSubmitLocation(t *testing.T) {
	loc := LocationRequest{ID: "F1", Lat: f64p(8.0294121), Lng: f64p(99.6502966)}

	t.Run("no form", func(t *testing.T) {
		fx := newFixture(t)
		fx.mock.ExpectQuery("WHERE id = \\?").WithArgs("F1").WillReturnRows(sqlmock.NewRows(formCols))

		_, err := fx.svc.SubmitLocation(context.Background(), "U1", loc)
		assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(err))
	})

	t.Run("form of another user", func(t *testing.T) {
		fx := newFixture(t)
		expectFindForm(fx.mock, "F1", daysAgo(2), 2, "U2", nil)

		_, err := fx.svc.SubmitLocation(context.Background(), "U1", loc)
		assert.Equal(t, http.StatusUnauthorized, ToHTTPStatus(err))
		assert.Empty(t, fx.messenger.pushed)
	})

	t.Run("updates and thanks", func(t *testing.T) {
		fx := newFixture(t)
		expectFindForm(fx.mock, "F1", daysAgo(2), 2, "U1", nil)
		fx.mock.ExpectExec("UPDATE home_isolation_forms SET lat = \\?, lng = \\? WHERE id = \\?").
			WithArgs(8.0294121, 99.6502966, "F1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		res, err := fx.svc.SubmitLocation(context.Background(), "U1", loc)
		require.NoError(t, err)
		assert.Equal(t, 8.0294121, *res.Lat)
		assert.Len(t, fx.messenger.pushed["U1"], 1)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("push failure does not fail the request", func(t *testing.T) {
		fx := newFixture(t)
		fx.messenger.fail = true
		expectFindForm(fx.mock, "F1", daysAgo(2), 2, "U1", nil)
		fx.mock.ExpectExec("UPDATE home_isolation_forms SET lat").WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := fx.svc.SubmitLocation(context.Background(), "U1", loc)
		assert.NoError(t, err)
		assert.Contains(t, fx.logs.String(), `"form_id":"F1"`)
		assert.NotContains(t, fx.logs.String(), "U1")
	})
}

// ===== recompute =====

func TestRecomputeTreatmentDayCounts(t *testing.T) {
	fx := newFixture(t)
	since := time.Date(2026, 10, 9, 0, 0, 0, 0, ict)

	fx.mock.ExpectQuery("WHERE admitted_at >= \\?").
		WithArgs(timeArg(since)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "admitted_at", "treatment_day_count"}).
			AddRow("A", daysAgo(3).UTC(), 2).
			AddRow("B", daysAgo(5).UTC(), 5).
			AddRow("C", daysAgo(1).UTC(), 0))
	fx.mock.ExpectExec("SET treatment_day_count = \\? WHERE id = \\? AND treatment_day_count = \\?").
		WithArgs(3, "A", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 他の実行が先に書き換えた
	fx.mock.ExpectExec("SET treatment_day_count = \\? WHERE id = \\? AND treatment_day_count = \\?").
		WithArgs(1, "C", 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := fx.svc.RecomputeTreatmentDayCounts(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Since.Equal(since))
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Recomputes.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Recomputes.WithLabelValues("conflict")))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRecomputeTreatmentDayCounts_QueryErrorStops(t *testing.T) {
	fx := newFixture(t)
	fx.mock.ExpectQuery("WHERE admitted_at >= \\?").WillReturnError(errors.New("connection reset"))

	_, err := fx.svc.RecomputeTreatmentDayCounts(context.Background())
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(err))
}

// ===== handler =====

var testSecret = []byte("test-secret")

func token(t *testing.T, sub, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + s
}

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	authed := api.Group("", auth.RequireAuth(testSecret))
	user := authed.Group("", auth.RequireRole(auth.RoleUser))
	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	RegisterRoutes(user, authed, admin, svc)
	return r
}

func TestHandler_DashboardIsAdminOnly(t *testing.T) {
	fx := newFixture(t)
	r := newRouter(fx.svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/forms", nil)
	req.Header.Set("Authorization", token(t, "U1", auth.RoleUser))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	fx.mock.ExpectQuery("ORDER BY admitted_at DESC").WillReturnRows(sqlmock.NewRows(formCols))
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/forms", nil)
	req.Header.Set("Authorization", token(t, "admin", auth.RoleAdmin))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"zones":["รพ.ค่าย","มทบ.43","กองพล ร.5","บชร.4","พัน.ขส"]}`, w.Body.String())
}

func TestHandler_GetFormHidesOtherUsersForms(t *testing.T) {
	fx := newFixture(t)
	r := newRouter(fx.svc)
	expectFindForm(fx.mock, "F1", daysAgo(2), 2, "U2", nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/forms/F1", nil)
	req.Header.Set("Authorization", token(t, "U1", auth.RoleUser))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body errorDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
}

func TestHandler_CreateFormRejectsBadJSON(t *testing.T) {
	fx := newFixture(t)
	r := newRouter(fx.svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms", strings.NewReader(`{"zone":"มทบ.43"}`))
	req.Header.Set("Authorization", token(t, "admin", auth.RoleAdmin))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(CodeInvalidArgument))
}

func TestErrorFromErr_HidesInternalMessages(t *testing.T) {
	body := errorFromErr(errors.New("dial tcp 10.0.0.3:3306: connection refused"))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "10.0.0.3")
}
