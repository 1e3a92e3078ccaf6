package contacts

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"

	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

const (
	formsTable    = "home_isolation_forms"
	patientsTable = "patients"
)

var dialect = goqu.Dialect("mysql")

// Filter: 通知先を選ぶ条件。line_id IS NOT NULL は常に付く（外せない）。
type Filter struct {
	Range           *treatment.Range
	WithoutLocation bool
	IncludePatients bool
}

// Matches: BuildQuery と同じ条件をメモリ上で評価する
func (f Filter) Matches(r Record) bool {
	if r.LineID == nil {
		return false
	}
	if f.Range != nil && !f.Range.Contains(r.AdmittedAt) {
		return false
	}
	if f.WithoutLocation && (r.Lat != nil || r.Lng != nil) {
		return false
	}
	return true
}

// BuildQuery: フォーム側の SELECT を組み立てる（患者は別クエリ）
func BuildQuery(f Filter) (string, []any, error) {
	ds := dialect.From(formsTable).
		Select("id", "admitted_at", "line_id", "line_display_name").
		Where(goqu.C("line_id").IsNotNull())

	if f.Range != nil {
		ds = ds.Where(
			goqu.C("admitted_at").Gte(f.Range.Since.UTC()),
			goqu.C("admitted_at").Lt(f.Range.Until.UTC()),
		)
	}
	if f.WithoutLocation {
		ds = ds.Where(goqu.C("lat").IsNull(), goqu.C("lng").IsNull())
	}
	return ds.Prepared(true).ToSQL()
}

func buildPatientsQuery(formIDs []string) (string, []any, error) {
	return dialect.From(patientsTable).
		Select("id", "name", "form_owner_id").
		Where(goqu.C("form_owner_id").In(formIDs)).
		Order(goqu.C("name").Asc()).
		Prepared(true).
		ToSQL()
}
