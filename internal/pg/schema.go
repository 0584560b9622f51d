package pg

import (
	"fmt"
	"strings"

	"replicator/internal/dsl"
	"replicator/internal/registry"
)

// sqlIdent: идентификатор в двойных кавычках, в нижнем регистре.
func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

// Ident: имя таблицы или колонки, созданной GenerateDDL.
func Ident(s string) string { return sqlIdent(s) }

// QuoteIdent: чужое имя как есть, с учётом регистра ("userId" != "userid" в Postgres).
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mapType(f dsl.Field) (string, error) {
	// вложенное поле хранит только ключ
	if f.IsNested() {
		return "text", nil
	}
	switch strings.ToLower(f.Type) {
	case "string", "enum", "ref":
		return "text", nil
	case "int":
		return "bigint", nil
	case "float":
		return "double precision", nil
	case "money":
		return "numeric(18,2)", nil
	case "bool":
		return "boolean", nil
	case "date":
		return "date", nil
	case "datetime":
		return "timestamp with time zone", nil
	case "array":
		// массив примитивов: в jsonb
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", f.Type)
	}
}

// GenerateDDL возвращает карту key -> CREATE TABLE для целевых таблиц sql-sink'а.
func GenerateDDL(schemas []*registry.Schema) (map[string]string, error) {
	out := make(map[string]string, len(schemas))
	for _, s := range schemas {
		pk := s.KeyField()
		cols := make([]string, 0, len(s.Entity.Fields))
		seen := map[string]struct{}{}
		for _, f := range s.Entity.Fields {
			nameLower := strings.ToLower(f.Name)
			if _, exists := seen[nameLower]; exists {
				return nil, fmt.Errorf("%s: duplicate column %q", s.FQN(), f.Name)
			}
			seen[nameLower] = struct{}{}

			typ, err := mapType(f)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", s.FQN(), f.Name, err)
			}
			null := "null"
			if f.Name == pk {
				null = "not null primary key"
			}
			cols = append(cols, fmt.Sprintf("%s %s %s", sqlIdent(f.Name), typ, null))
		}
		out["100_"+strings.ToLower(s.Target)] = fmt.Sprintf("create table if not exists %s (\n  %s\n);",
			sqlIdent(s.Target), strings.Join(cols, ",\n  "))
	}
	return out, nil
}
