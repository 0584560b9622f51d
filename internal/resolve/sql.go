package resolve

import (
	"context"
	"database/sql"
	"fmt"

	"replicator/internal/coerce"
	"replicator/internal/entity"
	"replicator/internal/materialize"
	"replicator/internal/pg"
	"replicator/internal/registry"
)

// SQL перечитывает владельцев из БД и собирает их тем же материализатором.
// По умолчанию БД: источник (таблица owner.Table, колонки источника).
type SQL struct {
	db       *sql.DB
	driver   string
	mat      *materialize.Materializer
	fromSink bool
}

type SQLOption func(*SQL)

// FromSink: читать владельцев из таблиц sql-sink'а (owner.Target, колонки по именам полей).
func FromSink() SQLOption {
	return func(r *SQL) { r.fromSink = true }
}

func NewSQL(db *sql.DB, driver string, mat *materialize.Materializer, opts ...SQLOption) *SQL {
	r := &SQL{db: db, driver: driver, mat: mat}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *SQL) Resolve(ctx context.Context, owner *registry.Schema, rel registry.Relationship, key string) ([]*entity.Entity, error) {
	out, err := r.query(ctx, owner, r.selectSQL(owner, rel), key)
	if err == nil && len(out) == 0 {
		err = ErrOwnerNotFound
	}
	if err != nil {
		return nil, &LookupError{Owner: owner.FQN(), Column: rel.OwnerColumn(), Key: key, Err: err}
	}
	return out, nil
}

func (r *SQL) selectSQL(owner *registry.Schema, rel registry.Relationship) string {
	column := rel.OwnerColumn()
	if !r.fromSink {
		return fmt.Sprintf("select * from %s where %s = %s",
			pg.QuoteIdent(owner.Table), pg.QuoteIdent(column), pg.Placeholder(r.driver, 1))
	}
	// в sink'е колонка fk хранится под именем поля связи
	if fk, ok := owner.RelationByColumn(column); ok {
		column = fk.Field
	}
	return fmt.Sprintf("select * from %s where %s = %s",
		pg.Ident(owner.Target), pg.Ident(column), pg.Placeholder(r.driver, 1))
}

func (r *SQL) query(ctx context.Context, owner *registry.Schema, q, key string) ([]*entity.Entity, error) {
	rows, err := r.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	layout := materialize.Layout{Columns: cols, Types: make([]coerce.Code, len(types))}
	for i, ct := range types {
		layout.Types[i] = coerce.CodeForDatabaseType(ct.DatabaseTypeName())
	}

	var out []*entity.Entity
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		e, err := r.mat.Build(owner, layout, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
