package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/go-sql-driver/mysql"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/db"
)

const mysqlErrDuplicateEntry = 1062

var dialect = goqu.Dialect("mysql")

const formColumns = `id, created_at, updated_at, admitted_at, treatment_day_count, lat, lng,
	zone, address, landmark_note, phone, line_id, line_display_name, line_picture_url`

type Store struct {
	db db.DBTX
}

// NewStore: *sql.DB でも Tx でもよい
func NewStore(q db.DBTX) *Store { return &Store{db: q} }

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(sc scanner) (Form, error) {
	var r formRow
	if err := sc.Scan(
		&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.AdmittedAt, &r.TreatmentDayCount, &r.Lat, &r.Lng,
		&r.Zone, &r.Address, &r.LandmarkNote, &r.Phone, &r.LineID, &r.LineDisplayName, &r.LinePictureURL,
	); err != nil {
		return Form{}, err
	}
	return r.toModel(), nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}

// ===== forms =====

func (s *Store) InsertForm(ctx context.Context, f *Form) error {
	const q = `
		INSERT INTO home_isolation_forms
			(id, admitted_at, treatment_day_count, lat, lng, zone, address, landmark_note,
			 phone, line_id, line_display_name, line_picture_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		f.ID, f.AdmittedAt.UTC(), f.TreatmentDayCount, toNullFloat(f.Lat), toNullFloat(f.Lng),
		f.Zone, f.Address, toNullString(f.LandmarkNote), f.Phone,
		toNullString(f.LineID), toNullString(f.LineDisplayName), toNullString(f.LinePictureURL),
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict("lineId is already registered")
		}
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

// FindByID: 見つからなければ nil, nil
func (s *Store) FindByID(ctx context.Context, id string) (*Form, error) {
	q := `SELECT ` + formColumns + ` FROM home_isolation_forms WHERE id = ?`
	return s.findOne(ctx, q, id)
}

// FindByLineID: 見つからなければ nil, nil
func (s *Store) FindByLineID(ctx context.Context, lineID string) (*Form, error) {
	q := `SELECT ` + formColumns + ` FROM home_isolation_forms WHERE line_id = ?`
	return s.findOne(ctx, q, lineID)
}

func (s *Store) findOne(ctx context.Context, q string, arg any) (*Form, error) {
	f, err := scanForm(s.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select form: %w", err)
	}
	forms := []Form{f}
	if err := s.attachPatients(ctx, forms); err != nil {
		return nil, err
	}
	return &forms[0], nil
}

// LockForm: 更新前に行ロックを取る（Tx 内で使う）
func (s *Store) LockForm(ctx context.Context, id string) (bool, error) {
	const q = `SELECT id FROM home_isolation_forms WHERE id = ? FOR UPDATE`
	var got string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&got); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock form: %w", err)
	}
	return true, nil
}

// UpdateForm: 値が変わらない場合 MySQL は RowsAffected=0 を返すので存在確認は LockForm で行う
func (s *Store) UpdateForm(ctx context.Context, f *Form) error {
	const q = `
		UPDATE home_isolation_forms
		SET admitted_at = ?, treatment_day_count = ?, lat = ?, lng = ?, zone = ?, address = ?,
			landmark_note = ?, phone = ?, line_id = ?, line_display_name = ?, line_picture_url = ?
		WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q,
		f.AdmittedAt.UTC(), f.TreatmentDayCount, toNullFloat(f.Lat), toNullFloat(f.Lng),
		f.Zone, f.Address, toNullString(f.LandmarkNote), f.Phone,
		toNullString(f.LineID), toNullString(f.LineDisplayName), toNullString(f.LinePictureURL),
		f.ID,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict("lineId is already registered")
		}
		return fmt.Errorf("update form: %w", err)
	}
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	const q = `UPDATE home_isolation_forms SET lat = ?, lng = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, lat, lng, id); err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}

// DeleteForm: patients は ON DELETE CASCADE
func (s *Store) DeleteForm(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM home_isolation_forms WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete form: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRecent: 入所日時の新しい順
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Form, error) {
	q := `SELECT ` + formColumns + ` FROM home_isolation_forms ORDER BY admitted_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	out := []Form{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan form: %w", err)
		}
		out = append(out, f)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.attachPatients(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ===== patients =====

func (s *Store) attachPatients(ctx context.Context, forms []Form) error {
	if len(forms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(forms))
	for _, f := range forms {
		ids = append(ids, f.ID)
	}
	q, args, err := dialect.From("patients").
		Select("id", "name", "form_owner_id").
		Where(goqu.C("form_owner_id").In(ids)).
		Order(goqu.C("name").Asc(), goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build patients query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("select patients: %w", err)
	}
	defer rows.Close()

	byForm := make(map[string][]Patient, len(forms))
	for rows.Next() {
		var p Patient
		var owner string
		if err := rows.Scan(&p.ID, &p.Name, &owner); err != nil {
			return fmt.Errorf("scan patient: %w", err)
		}
		byForm[owner] = append(byForm[owner], p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range forms {
		ps := byForm[forms[i].ID]
		if ps == nil {
			ps = []Patient{}
		}
		forms[i].Patients = ps
	}
	return nil
}

// UpsertPatients: 既存IDは名前を更新、新規IDは追加
func (s *Store) UpsertPatients(ctx context.Context, formID string, patients []Patient) error {
	if len(patients) == 0 {
		return nil
	}
	rows := make([]goqu.Record, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, goqu.Record{"id": p.ID, "name": p.Name, "form_owner_id": formID})
	}
	q, args, err := dialect.Insert("patients").
		Rows(rows).
		OnConflict(goqu.DoUpdate("id", goqu.Record{"name": goqu.L("VALUES(`name`)")})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert patients: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert patients: %w", err)
	}
	return nil
}

// DeletePatientsExcept: keep に含まれない患者を削除。keep が空ならフォームの患者を全削除。
func (s *Store) DeletePatientsExcept(ctx context.Context, formID string, keep []string) error {
	ds := dialect.Delete("patients").Where(goqu.C("form_owner_id").Eq(formID))
	if len(keep) > 0 {
		ds = ds.Where(goqu.C("id").NotIn(keep))
	}
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete patients: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete patients: %w", err)
	}
	return nil
}

// ===== treatment day count =====

// ListDayCountsSince: admitted_at >= since
func (s *Store) ListDayCountsSince(ctx context.Context, since time.Time) ([]DayCount, error) {
	const q = `
		SELECT id, admitted_at, treatment_day_count
		FROM home_isolation_forms
		WHERE admitted_at >= ?
		ORDER BY admitted_at ASC`
	rows, err := s.db.QueryContext(ctx, q, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list day counts: %w", err)
	}
	defer rows.Close()

	out := []DayCount{}
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.ID, &d.AdmittedAt, &d.TreatmentDayCount); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CompareAndSwapDayCount: 読んだ値のままなら更新。false は他の更新に負けた（または削除された）。
func (s *Store) CompareAndSwapDayCount(ctx context.Context, id string, old, next int) (bool, error) {
	const q = `UPDATE home_isolation_forms SET treatment_day_count = ? WHERE id = ? AND treatment_day_count = ?`
	res, err := s.db.ExecContext(ctx, q, next, id, old)
	if err != nil {
		return false, fmt.Errorf("update day count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
