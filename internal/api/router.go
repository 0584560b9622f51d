// api/router.go
package api

import (
	"github.com/gin-gonic/gin"

	"replicator/internal/dispatch"
	"replicator/internal/materialize"
	"replicator/internal/registry"
	"replicator/internal/sink/memory"
)

// Deps: то, что API показывает; всё только на чтение.
type Deps struct {
	Registry *registry.Registry
	Store    *memory.Store
	Stats    *dispatch.Stats
	State    *materialize.State
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(d.Registry))
		apiGroup.GET("/meta/:table", MetaTableHandler(d.Registry))
		apiGroup.GET("/stats", StatsHandler(d.Stats, d.State))

		apiGroup.GET("/records/:module/:entity", ListHandler(d.Registry, d.Store))
		apiGroup.GET("/records/:module/:entity/:id", GetOneHandler(d.Registry, d.Store))
	}
	return r
}

func RunServer(addr string, d Deps) error {
	return NewRouter(d).Run(addr)
}
