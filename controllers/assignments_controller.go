package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
	services "github.com/phillip/impact-audit-go/services"
	store "github.com/phillip/impact-audit-go/store"
)

// ---------------- LIST MINE ----------------
func ListMyAssignments(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		assignments, err := st.ListAssignmentsByAuditor(ctx, auditorID, c.Query("status"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch assignments"})
			return
		}
		if assignments == nil {
			assignments = []models.AuditAssignment{}
		}

		c.JSON(http.StatusOK, assignments)
	}
}

// ---------------- ACCEPT ----------------
// Accepting opens the audit engagement: the request goes terminal on
// assigned and the Audit document is created with criteria and base fee.
func AcceptAssignment(cfg *config.Config, assigner *services.Assigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		assignmentID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assignment id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		audit, err := assigner.Accept(ctx, assignmentID, auditorID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "assignment accepted",
			"audit":   audit,
		})
	}
}

// ---------------- DECLINE ----------------
func DeclineAssignment(cfg *config.Config, assigner *services.Assigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		assignmentID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assignment id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := assigner.Decline(ctx, assignmentID, auditorID); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "assignment declined"})
	}
}
