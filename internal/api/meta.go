package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"replicator/internal/dispatch"
	"replicator/internal/materialize"
	"replicator/internal/registry"
)

// ===== META HANDLERS =====

type metaTableListItem struct {
	Table  string `json:"table"`
	Module string `json:"module"`
	Entity string `json:"entity"`
	Sink   string `json:"sink"`
}

func MetaListHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		schemas := reg.Schemas()
		out := make([]metaTableListItem, 0, len(schemas))
		for _, s := range schemas {
			mod, ent := splitFQN(s.FQN())
			out = append(out, metaTableListItem{Table: s.Table, Module: mod, Entity: ent, Sink: s.SinkName})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	ElemType string            `json:"elemType,omitempty"`
	Ref      string            `json:"ref,omitempty"`
	Enum     []string          `json:"enum,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type metaRelation struct {
	Field       string `json:"field"`
	Table       string `json:"table"`
	ForeignKey  string `json:"fk"`
	PrimaryKey  string `json:"pk"`
	Cardinality string `json:"cardinality"`
}

type metaTable struct {
	Table     string         `json:"table"`
	Module    string         `json:"module"`
	Entity    string         `json:"entity"`
	Key       string         `json:"key"`
	Sink      string         `json:"sink"`
	Target    string         `json:"target"`
	Columns   []string       `json:"columns,omitempty"`
	Fields    []metaField    `json:"fields"`
	Relations []metaRelation `json:"relations,omitempty"`
	// владельцы, которые пересохраняются при изменении строк этой таблицы
	CarrierFor []string `json:"carrierFor,omitempty"`
}

// GET /api/meta/:table
func MetaTableHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		schema, err := reg.Lookup(table)
		if err != nil && !reg.IsCarrier(table) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}

		out := metaTable{Table: table}
		for _, cr := range reg.Carriers(table) {
			out.CarrierFor = append(out.CarrierFor, cr.Owner.FQN()+"."+cr.Rel.Field)
		}
		if schema == nil {
			// таблица-носитель без своей сущности
			c.JSON(http.StatusOK, out)
			return
		}

		out.Module, out.Entity = splitFQN(schema.FQN())
		out.Key = schema.KeyField()
		out.Sink = schema.SinkName
		out.Target = schema.Target
		out.Columns = schema.Columns
		for _, f := range schema.Entity.Fields {
			opts := map[string]string{}
			for k, v := range f.Options {
				opts[k] = v
			}
			out.Fields = append(out.Fields, metaField{
				Name:     f.Name,
				Type:     strings.ToLower(f.Type),
				ElemType: f.ElemType,
				Ref:      f.RefTarget,
				Enum:     append([]string(nil), f.Enum...),
				Options:  opts,
			})
			if rel, ok := schema.Nested()[f.Name]; ok {
				out.Relations = append(out.Relations, metaRelation{
					Field:       rel.Field,
					Table:       rel.Table,
					ForeignKey:  rel.ForeignKey,
					PrimaryKey:  rel.PrimaryKey,
					Cardinality: string(rel.Cardinality),
				})
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/stats
func StatsHandler(stats *dispatch.Stats, state *materialize.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stats":        stats.Snapshot(),
			"currentTable": state.Table(),
		})
	}
}

// splitFQN("module.entity") -> ("module","entity")
func splitFQN(fqn string) (string, string) {
	i := strings.IndexByte(fqn, '.')
	if i <= 0 || i >= len(fqn)-1 {
		return "", fqn
	}
	return fqn[:i], fqn[i+1:]
}
