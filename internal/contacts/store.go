package contacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/db"
)

// Store: Filter に一致する通知先を返す
type Store interface {
	Select(ctx context.Context, f Filter) ([]Contact, error)
}

// ===== MySQL =====

type MySQLStore struct{ db db.DBTX }

func NewMySQLStore(conn db.DBTX) *MySQLStore { return &MySQLStore{db: conn} }

func (s *MySQLStore) Select(ctx context.Context, f Filter) ([]Contact, error) {
	out, ids, err := s.selectContacts(ctx, f)
	if err != nil {
		return nil, err
	}
	if !f.IncludePatients || len(out) == 0 {
		return out, nil
	}

	byForm, err := s.loadPatients(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		ps := byForm[ids[i]]
		if ps == nil {
			ps = []Patient{}
		}
		out[i].Patients = ps
	}
	return out, nil
}

// selectContacts: フォーム行を読み切ってから返す（Tx 上でも次のクエリを流せるように）
func (s *MySQLStore) selectContacts(ctx context.Context, f Filter) ([]Contact, []string, error) {
	q, args, err := BuildQuery(f)
	if err != nil {
		return nil, nil, fmt.Errorf("build contact query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	out := make([]Contact, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var r contactRow
		if err := rows.Scan(&r.ID, &r.AdmittedAt, &r.LineID, &r.LineDisplayName); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		c, err := r.toModel()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, c)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return out, ids, nil
}

func (s *MySQLStore) loadPatients(ctx context.Context, formIDs []string) (map[string][]Patient, error) {
	q, args, err := buildPatientsQuery(formIDs)
	if err != nil {
		return nil, fmt.Errorf("build patients query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select patients: %w", err)
	}
	defer rows.Close()

	byForm := make(map[string][]Patient, len(formIDs))
	for rows.Next() {
		var r patientRow
		if err := rows.Scan(&r.ID, &r.Name, &r.FormOwnerID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		byForm[r.FormOwnerID] = append(byForm[r.FormOwnerID], p)
	}
	return byForm, rows.Err()
}

// ===== Memory =====

// MemoryStore: テストや単体実行用。条件は Filter.Matches で MySQL と揃える。
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore(records ...Record) *MemoryStore {
	return &MemoryStore{records: append([]Record(nil), records...)}
}

func (s *MemoryStore) Add(records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

func (s *MemoryStore) Select(_ context.Context, f Filter) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Contact, 0)
	for _, r := range s.records {
		if !f.Matches(r) {
			continue
		}
		if r.AdmittedAt.IsZero() {
			return nil, fmt.Errorf("%w: form %s: admitted_at is null", ErrUnexpectedShape, r.ID)
		}
		if *r.LineID == "" {
			return nil, fmt.Errorf("%w: form %s: line_id is empty", ErrUnexpectedShape, r.ID)
		}
		c := Contact{
			FormID:          r.ID,
			AdmittedAt:      r.AdmittedAt,
			LineID:          *r.LineID,
			LineDisplayName: r.LineDisplayName,
		}
		if f.IncludePatients {
			c.Patients = append(make([]Patient, 0, len(r.Patients)), r.Patients...)
		}
		out = append(out, c)
	}
	return out, nil
}
