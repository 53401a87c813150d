// Package provision serves the device-facing HTTP surface: OTA version
// and firmware downloads, the provisioning check-in that hands the
// device its WebSocket endpoint, and the vision callback the device
// posts camera frames to.
package provision

import (
	"github.com/gin-gonic/gin"

	"github.com/urmzd/watchgate/pkg/ai"
	"github.com/urmzd/watchgate/pkg/bus"
	"github.com/urmzd/watchgate/pkg/db"
)

// Options carries the static values the handlers advertise.
type Options struct {
	// FirmwarePath is the firmware image served to devices, if present.
	FirmwarePath string

	// WebSocketPort is the device WebSocket port advertised in check-in
	// responses.
	WebSocketPort int
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine    *gin.Engine
	publisher bus.Publisher
	vision    ai.VisionProvider
	checkins  db.CheckinStore
	opts      Options
}

// NewRouter creates the provisioning router. checkins may be nil, in
// which case check-ins are served but not recorded.
func NewRouter(publisher bus.Publisher, vision ai.VisionProvider, checkins db.CheckinStore, opts Options) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:    engine,
		publisher: publisher,
		vision:    vision,
		checkins:  checkins,
		opts:      opts,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all provisioning routes
func (r *Router) setupRoutes() {
	ota := NewOTAHandler(r.checkins, r.opts)
	r.engine.GET("/ota/version", ota.Version)
	r.engine.GET("/ota/firmware", ota.Firmware)
	// The device firmware posts to both forms.
	r.engine.POST("/ota", ota.Checkin)
	r.engine.POST("/ota/", ota.Checkin)

	vision := NewVisionHandler(r.publisher, r.vision)
	r.engine.POST("/vision/explain", vision.Explain)
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}

// Engine exposes the underlying Gin engine for testing and embedding.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
