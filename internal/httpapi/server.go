// Package httpapi exposes the desktop/mobile wire protocol (spec §6.2)
// over gin: pairing, delta sync, the timeline read model, and appointment
// prep, plus a progress-push channel for in-flight document processing.
// TLS termination and the operator-bound certificate are an external
// collaborator (spec §1); this package serves plain HTTP and assumes a
// reverse proxy or the desktop shell terminates TLS in front of it.
package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ktiyab/coheara/internal/coherence"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/pipeline"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/types"
)

// Server bundles every collaborator a handler needs. Its only in-memory
// state is the pairing manager's session (spec §4.G) and the progress
// hub's open websocket connections; everything else is read through Repo.
type Server struct {
	Repo      *store.Repository
	Pairing    *pairing.Manager
	Reference   coherence.ReferenceData
	Orchestrator *pipeline.Orchestrator
	ProfileID   types.ID
	ProfileName  string
	ServerURL   string
	CertFingerprint string
	Log      *slog.Logger
	Progress   *ProgressHub
}

// singleProfileSession implements pipeline.Session for the single local
// profile this core instance serves (spec §1: profile management beyond
// this is an external collaborator).
type singleProfileSession struct {
	id types.ID
}

func (s singleProfileSession) ProfileID() types.ID { return s.id }

// NewServer constructs a Server with the given collaborators. log may be
// nil, in which case slog.Default() is used.
func NewServer(
	repo *store.Repository,
	mgr *pairing.Manager,
	ref coherence.ReferenceData,
	orch *pipeline.Orchestrator,
	profileID types.ID,
	profileName, serverURL, certFingerprint string,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Repo:      repo,
		Pairing:    mgr,
		Reference:   ref,
		Orchestrator: orch,
		ProfileID:   profileID,
		ProfileName:  profileName,
		ServerURL:   serverURL,
		CertFingerprint: certFingerprint,
		Log:      log,
		Progress:   NewProgressHub(),
	}
}

// Router builds the gin engine, wired with otelgin tracing and the route
// table (spec §6.2). Matches the teacher's orchestrator wiring: a default
// gin engine, the otelgin middleware, then route registration.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("coheara-core"))
	s.registerRoutes(router)
	return router
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	pairingGroup := api.Group("/pairing")
	pairingGroup.POST("/start", s.handlePairingStart)
	pairingGroup.GET("/qr", s.handlePairingQR)
	pairingGroup.POST("/request", s.handlePairRequest)
	pairingGroup.POST("/approve", s.handlePairingApprove)
	pairingGroup.POST("/deny", s.handlePairingDeny)

	authed := api.Group("/")
	authed.Use(s.authRequired())
	authed.POST("/sync", s.handleSync)
	authed.GET("/timeline", s.handleTimeline)
	authed.GET("/appointments", s.handleListAppointments)
	authed.POST("/appointments/:id/notes", s.handleSavePostAppointmentNotes)
	authed.GET("/appointments/:id/prep", s.handleAppointmentPrep)
	authed.POST("/documents", s.handleUploadDocument)
	authed.POST("/documents/:id/confirm", s.handleConfirmDocument)
	authed.GET("/alerts", s.handleListAlerts)
	authed.POST("/alerts/:id/dismiss", s.handleDismissAlert)
	authed.GET("/progress/ws", s.handleProgressWebSocket)
}
