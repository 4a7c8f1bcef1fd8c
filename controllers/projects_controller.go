package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
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
func ListProjects(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		projects, err := st.ListProjects(ctx, c.Query("status"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch projects"})
			return
		}

		if len(projects) == 0 {
			c.JSON(http.StatusOK, []models.Project{})
			return
		}

		// --- Pick the most recently updated project ---
		latest := projects[0]
		for _, p := range projects {
			if p.UpdatedAt.After(latest.UpdatedAt) {
				latest = p
			}
		}

		// --- Generate ETag from latest project ---
		etag := utils.GenerateETag(latest.ID, latest.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		c.Header("Last-Modified", latest.UpdatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, projects)
	}
}

// ---------------- GET ----------------
func GetProject(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		project, err := st.GetProject(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}

		etag := utils.GenerateETag(project.ID, project.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		c.JSON(http.StatusOK, project)
	}
}

type milestoneSubmitInput struct {
	ExpectedVersion int64  `json:"expected_version"`
	Deadline        string `json:"deadline"`
	Priority        string `json:"priority"`
}

// ---------------- SUBMIT MILESTONE ----------------
// Moves a pending milestone to submitted under the project version guard.
// Audit-required milestones also open an AuditRequest and immediately try to
// assign it; assignment failures escalate inside the engine, they never fail
// the submission.
func SubmitMilestone(cfg *config.Config, st *store.Store, assigner *services.Assigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := callerID(c)
		if !ok {
			return
		}
		role := c.GetString("role")

		projectID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}
		milestoneID := c.Param("mid")

		// Body is optional; every field has a default.
		var input milestoneSubmitInput
		if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// --- Load project and check ownership ---
		project, err := st.GetProject(ctx, projectID)
		if err != nil {
			writeError(c, err)
			return
		}
		if role != "admin" && project.CreatorID.Hex() != uid {
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not own this project"})
			return
		}

		milestone, found := project.FindMilestone(milestoneID)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "milestone not found"})
			return
		}
		if milestone.Status != models.MilestonePending {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("milestone is %s, only pending milestones can be submitted", milestone.Status)})
			return
		}

		// --- Resolve deadline and priority for the audit request ---
		now := time.Now()
		deadline := now.AddDate(0, 0, cfg.Engine.Assignment.AuditDeadlineDays)
		if input.Deadline != "" {
			parsed, err := parseDeadline(input.Deadline)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deadline format"})
				return
			}
			deadline = parsed
		}

		priority := input.Priority
		if priority == "" {
			priority = models.PriorityNormal
		}
		if priority != models.PriorityNormal && priority != models.PriorityHigh && priority != models.PriorityUrgent {
			c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be normal, high or urgent"})
			return
		}

		// --- Transition the milestone ---
		version := input.ExpectedVersion
		if version == 0 {
			version = project.Version
		}
		if err := st.SubmitMilestone(ctx, projectID, version, milestoneID, milestone.AuditRequired, now); err != nil {
			writeError(c, err)
			return
		}

		if !milestone.AuditRequired {
			c.JSON(http.StatusOK, gin.H{"message": "milestone submitted"})
			return
		}

		// --- Open the audit request ---
		estimated := milestoneAmount(project.TargetAmount, milestone.FundingPercentage)
		req := &models.AuditRequest{
			ID:                       primitive.NewObjectID(),
			ProjectID:                projectID,
			MilestoneID:              milestoneID,
			Category:                 project.Category,
			Complexity:               complexityFor(estimated),
			RequiredQualifications:   cfg.Engine.Assignment.DefaultQualifications,
			PreferredSpecializations: []string{project.Category},
			EstimatedAmount:          estimated,
			Deadline:                 deadline,
			Priority:                 priority,
			Status:                   models.RequestPendingAssignment,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		if err := st.InsertRequest(ctx, req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create audit request"})
			return
		}

		// --- Try to assign right away; escalation is handled inside ---
		outcome, err := assigner.AssignRequest(ctx, req)
		if err != nil {
			log.Printf("[assign] immediate assignment of request %s: %v", req.ID.Hex(), err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"message":          "milestone submitted for audit",
			"audit_request_id": req.ID.Hex(),
			"assignment":       string(outcome),
		})
	}
}

// milestoneAmount is the slice of the funding target covered by one
// milestone, in cents.
func milestoneAmount(targetAmount int64, fundingPercentage float64) int64 {
	return int64(math.Round(float64(targetAmount) * fundingPercentage / 100))
}

// complexityFor bands the estimated amount into the complexity levels
// auditors state preferences over.
func complexityFor(estimatedAmount int64) string {
	switch {
	case estimatedAmount < 1_000_000:
		return "low"
	case estimatedAmount < 5_000_000:
		return "medium"
	default:
		return "high"
	}
}

// parseDeadline accepts RFC3339 plus the common date-only and date-time
// layouts clients actually send.
func parseDeadline(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	layouts := []string{"2006-01-02", "2006-01-02 15:04", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized deadline format")
}
