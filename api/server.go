package api

import (
	"github.com/gin-gonic/gin"

	"clipsmith/common"
	"clipsmith/config"
	"clipsmith/download"
	"clipsmith/queue"
	"clipsmith/store"
)

// Controllers bundles the dependencies the HTTP handlers need.
type Controllers struct {
	cfg    config.Config
	store  *store.Store
	queue  queue.Enqueuer
	guard  *common.PathGuard
	titles *download.TitleLookup // nil disables title lookup at submission
}

// NewControllers wires the handler dependencies.
func NewControllers(cfg config.Config, st *store.Store, q queue.Enqueuer, guard *common.PathGuard, titles *download.TitleLookup) *Controllers {
	return &Controllers{
		cfg:    cfg,
		store:  st,
		queue:  q,
		guard:  guard,
		titles: titles,
	}
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(ctrl *Controllers) *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; logger optional to reduce verbosity
	r.Use(gin.Recovery())

	// Register resource routers
	RegisterVideoRoutes(r, ctrl)
	RegisterSpeakerRoutes(r, ctrl)
	RegisterHealthRoutes(r)
	return r
}
