package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/phillip/impact-audit-go/config"
	controllers "github.com/phillip/impact-audit-go/controllers"
	middleware "github.com/phillip/impact-audit-go/middleware"
	services "github.com/phillip/impact-audit-go/services"
	store "github.com/phillip/impact-audit-go/store"
)

// Deps is everything the handlers close over.
type Deps struct {
	Store       *store.Store
	Assigner    *services.Assigner
	Submissions *services.SubmissionEngine
	Interest    *services.InterestEngine
}

func SetupRoutes(r *gin.Engine, cfg *config.Config, deps Deps) {
	// public
	r.GET("/health", controllers.Health(cfg))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// protected
	auth := middleware.AuthMiddleware(cfg)

	projects := r.Group("/projects")
	projects.Use(auth)
	{
		projects.GET("", controllers.ListProjects(cfg, deps.Store))
		projects.GET("/:id", controllers.GetProject(cfg, deps.Store))
		projects.POST("/:id/milestones/:mid/submit", controllers.SubmitMilestone(cfg, deps.Store, deps.Assigner))
	}

	contributions := r.Group("/contributions")
	contributions.Use(auth)
	{
		contributions.POST("", controllers.CreateContribution(cfg, deps.Store))
		contributions.GET("", controllers.ListContributions(cfg, deps.Store))
		contributions.GET("/:id", controllers.GetContribution(cfg, deps.Store))
	}

	requests := r.Group("/audit-requests")
	requests.Use(auth)
	{
		requests.GET("", controllers.ListAuditRequests(cfg, deps.Store))
		requests.GET("/:id", controllers.GetAuditRequest(cfg, deps.Store))
		requests.POST("/:id/reassign", controllers.ReassignAuditRequest(cfg, deps.Assigner))
	}

	assignments := r.Group("/assignments")
	assignments.Use(auth)
	{
		assignments.GET("", controllers.ListMyAssignments(cfg, deps.Store))
		assignments.POST("/:id/accept", controllers.AcceptAssignment(cfg, deps.Assigner))
		assignments.POST("/:id/decline", controllers.DeclineAssignment(cfg, deps.Assigner))
	}

	audits := r.Group("/audits")
	audits.Use(auth)
	{
		audits.GET("", controllers.ListMyAudits(cfg, deps.Store))
		audits.GET("/:id", controllers.GetAudit(cfg, deps.Store))
		audits.POST("/:id/start", controllers.StartAudit(cfg, deps.Store))
		audits.POST("/:id/evidence", controllers.UploadAuditEvidence(cfg, deps.Store))
		audits.POST("/:id/report", controllers.SubmitAuditReport(cfg, deps.Submissions))
	}

	notifs := r.Group("/notifications")
	notifs.Use(auth) // protected
	{
		notifs.GET("", controllers.ListNotifications(cfg, deps.Store))
		notifs.PATCH("/:id/read", controllers.MarkNotificationRead(cfg, deps.Store))
	}

	ops := r.Group("/ops")
	ops.Use(auth, middleware.RequireRole("admin"))
	{
		ops.POST("/sweep", controllers.TriggerSweep(cfg, deps.Assigner))
		ops.POST("/interest/run", controllers.TriggerInterestRun(cfg, deps.Interest))
		ops.POST("/interest/reconcile", controllers.TriggerReconciliation(cfg, deps.Interest))
		ops.GET("/escalations", controllers.ListEscalations(cfg, deps.Store))
	}
}
