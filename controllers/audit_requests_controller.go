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
	utils "github.com/phillip/impact-audit-go/utils"
)

// ---------------- LIST ----------------
func ListAuditRequests(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		requests, err := st.ListRequests(ctx, c.Query("status"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch audit requests"})
			return
		}

		if len(requests) == 0 {
			c.JSON(http.StatusOK, []models.AuditRequest{})
			return
		}

		latest := requests[0]
		for _, req := range requests {
			if req.UpdatedAt.After(latest.UpdatedAt) {
				latest = req
			}
		}

		etag := utils.GenerateETag(latest.ID, latest.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		c.Header("Last-Modified", latest.UpdatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, requests)
	}
}

// ---------------- GET ----------------
func GetAuditRequest(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := st.GetRequest(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}

		etag := utils.GenerateETag(req.ID, req.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		c.JSON(http.StatusOK, req)
	}
}

// ---------------- REASSIGN ----------------
// Manual path out of the escalated state. Resolves the open tickets and puts
// the request back through matching.
func ReassignAuditRequest(cfg *config.Config, assigner *services.Assigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		if role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "only admins can reassign escalated requests"})
			return
		}

		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		outcome, err := assigner.Reassign(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "request requeued for assignment",
			"outcome": string(outcome),
		})
	}
}
