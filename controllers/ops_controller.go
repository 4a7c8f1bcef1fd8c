package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
	services "github.com/phillip/impact-audit-go/services"
	store "github.com/phillip/impact-audit-go/store"
)

// Manual triggers for the periodic jobs. Same functions the scheduler and
// the CLI one-shots run, so an operator can force a pass between ticks.

// ---------------- SWEEP ----------------
func TriggerSweep(cfg *config.Config, assigner *services.Assigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		summary, err := assigner.Sweep(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

// ---------------- INTEREST RUN ----------------
func TriggerInterestRun(cfg *config.Config, engine *services.InterestEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		summary, err := engine.Run(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

// ---------------- RECONCILIATION ----------------
func TriggerReconciliation(cfg *config.Config, engine *services.InterestEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		report, err := engine.Reconcile(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

// ---------------- ESCALATIONS ----------------
func ListEscalations(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status := c.DefaultQuery("status", string(models.TicketOpen))
		tickets, err := st.ListTickets(ctx, status, c.Query("kind"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch tickets"})
			return
		}
		if tickets == nil {
			tickets = []models.Ticket{}
		}

		c.JSON(http.StatusOK, tickets)
	}
}

// ---------------- HEALTH ----------------
func Health(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cfg.MongoClient.Ping(ctx, readpref.Primary()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
