package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
)

func TestWherePlaceholders(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{ClientID: "c1", EquipmentID: "e1", StartFrom: &from}

	pg := newWhere(db.Postgres).filter(f)
	if got, want := pg.String(), " WHERE id_cliente = $1 AND id_equipamento = $2 AND periodo_inicio >= $3"; got != want {
		t.Errorf("postgres where = %q, want %q", got, want)
	}
	if len(pg.args) != 3 {
		t.Errorf("got %d args, want 3", len(pg.args))
	}

	lite := newWhere(db.SQLite).filter(f)
	if got, want := lite.String(), " WHERE id_cliente = ? AND id_equipamento = ? AND periodo_inicio >= ?"; got != want {
		t.Errorf("sqlite where = %q, want %q", got, want)
	}
}

func TestWhereConvertsTimesToUTCForSQLite(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)

	w := newWhere(db.SQLite).filter(Filter{StartFrom: &from})

	got := w.args[0].(time.Time)
	if got.Location() != time.UTC || !got.Equal(from) {
		t.Errorf("arg = %v, want %v in UTC", got, from)
	}
}

func TestEmptyWhere(t *testing.T) {
	if got := newWhere(db.Postgres).filter(Filter{}).String(); got != "" {
		t.Errorf("where = %q, want empty", got)
	}
}

func TestOrderClause(t *testing.T) {
	got, err := orderClause(ListOptions{})
	if err != nil || got != " ORDER BY periodo_inicio DESC, id DESC" {
		t.Errorf("default order = %q, %v", got, err)
	}

	got, err = orderClause(ListOptions{OrderBy: OrderByPeriodEnd, Ascending: true})
	if err != nil || got != " ORDER BY periodo_fim ASC, id ASC" {
		t.Errorf("ascending order = %q, %v", got, err)
	}

	if _, err := orderClause(ListOptions{OrderBy: "id_cliente; DROP TABLE x"}); err == nil {
		t.Error("expected error for unknown order column")
	}
}

func TestConflictSetKeepsElectricalValues(t *testing.T) {
	electrical, _ := quantity.ByName("electrical-quantities")
	temperature, _ := quantity.ByName("temperature")

	set := conflictSet(electrical)
	if !strings.Contains(set, "tensao_r_media = COALESCE(EXCLUDED.tensao_r_media, dados_agregados.tensao_r_media)") {
		t.Errorf("electrical conflict set does not coalesce: %s", set)
	}

	set = conflictSet(temperature)
	if !strings.Contains(set, "temperatura_media = EXCLUDED.temperatura_media") {
		t.Errorf("temperature conflict set = %s", set)
	}
	for _, col := range []string{"periodo_fim", "created_at"} {
		if strings.Contains(set, col+" =") {
			t.Errorf("conflict set must not update %s", col)
		}
	}
}

func TestBulkAggregateSQLRestrictsToIDs(t *testing.T) {
	fam, _ := quantity.ByName("brunidores-current")

	query := bulkAggregateSQL(fam)

	for _, want := range []string{
		"WHERE r.id = ANY($1)",
		"date_trunc($2",
		"ROUND(AVG(b.corrente), 2)",
		"corrente_brunidores_ultima",
		"GROUP BY b.id_cliente, b.id_equipamento, b.bucket",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("bulk query missing %q:\n%s", want, query)
		}
	}
}
