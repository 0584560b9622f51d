package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"replicator/internal/entity"
	"replicator/internal/registry"
	"replicator/internal/sink/memory"
)

func flatten(rec *memory.Record) map[string]any {
	out := map[string]any{
		"_key":        rec.Key,
		"_revision":   rec.Revision,
		"_version":    rec.Version,
		"_created_at": rec.CreatedAt.Format(time.RFC3339),
		"_updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Entity.Values {
		// отложенная связь отдаётся ключом
		if d, ok := v.(*entity.Deferred); ok {
			if d == nil {
				out[k] = nil
				continue
			}
			out[k] = d.Key
			continue
		}
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	return out
}

// entityFQN: FQN из пары {module, entity}, если сущность привязана к таблице.
func entityFQN(reg *registry.Registry, module, name string) (string, bool) {
	for _, s := range reg.Schemas() {
		m, e := splitFQN(s.FQN())
		if strings.EqualFold(m, module) && strings.EqualFold(e, name) {
			return s.FQN(), true
		}
	}
	return "", false
}

// GET /api/records/:module/:entity
func ListHandler(reg *registry.Registry, store *memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := entityFQN(reg, c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		lp := parseListParams(c.Request.URL.Query())
		filtered := filterRecords(store.List(fqn), lp.Filters)
		sortRecordsMulti(filtered, lp.Sort)

		start := lp.Offset
		if start > len(filtered) {
			start = len(filtered)
		}
		end := start + lp.Limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page := filtered[start:end]

		out := make([]map[string]any, 0, len(page))
		for _, rec := range page {
			out = append(out, flatten(rec))
		}
		c.Header("X-Total-Count", strconv.Itoa(len(filtered)))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/records/:module/:entity/:id
func GetOneHandler(reg *registry.Registry, store *memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := entityFQN(reg, c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		rec, ok := store.Get(fqn, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.Header("ETag", fmt.Sprintf(`"%d"`, rec.Version))
		c.JSON(http.StatusOK, flatten(rec))
	}
}
