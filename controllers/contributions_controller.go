package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
	store "github.com/phillip/impact-audit-go/store"
	utils "github.com/phillip/impact-audit-go/utils"
)

type contributionInput struct {
	ProjectID          string `json:"project_id"`
	ContributorName    string `json:"contributor_name"`
	ContributorContact string `json:"contributor_contact"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Method             string `json:"method"`
	PaymentRef         string `json:"payment_reference"`
}

// ---------------- CREATE ----------------
// Records a confirmed payment into escrow. The release schedule is derived
// from the project's milestone funding percentages at intake time and sums to
// the amount exactly.
func CreateContribution(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input contributionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// validate project_id
		projectID, err := primitive.ObjectIDFromHex(input.ProjectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
			return
		}

		// validate contribution amount
		if input.Amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be greater than 0"})
			return
		}
		if input.ContributorName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "contributor_name is required"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// check if project exists and accepts funds
		project, err := st.GetProject(ctx, projectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project not found"})
			return
		}
		if project.Status != "active" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project is not accepting contributions"})
			return
		}

		schedule := models.BuildReleaseSchedule(project.Milestones, input.Amount)
		if len(schedule) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project has no funded milestones"})
			return
		}

		currency := input.Currency
		if currency == "" {
			currency = project.Currency
		}

		now := time.Now()
		contributorID, err := st.UpsertContributor(ctx, input.ContributorName, input.ContributorContact, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record contributor"})
			return
		}

		contribution := models.Contribution{
			ID:                 primitive.NewObjectID(),
			ProjectID:          projectID,
			ContributorID:      contributorID,
			ContributorName:    input.ContributorName,
			ContributorContact: input.ContributorContact,
			Amount:             input.Amount,
			Currency:           currency,
			Method:             input.Method,
			PaymentRef:         input.PaymentRef,
			Status:             models.ContributionConfirmed,
			Escrow: models.Escrow{
				Held:      true,
				Principal: input.Amount,
				HeldSince: now,
			},
			ReleaseSchedule: schedule,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := st.InsertContribution(ctx, &contribution); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create contribution"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":      contribution.ID.Hex(),
			"message": "contribution received and held in escrow",
		})
	}
}

// ---------------- LIST ----------------
func ListContributions(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// --- Build filter ---
		var projectID *primitive.ObjectID
		if raw := c.Query("project_id"); raw != "" {
			if oid, err := primitive.ObjectIDFromHex(raw); err == nil {
				projectID = &oid
			}
		}

		contributions, err := st.ListContributions(ctx, projectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch contributions"})
			return
		}

		if status := c.Query("status"); status != "" {
			filtered := contributions[:0]
			for _, ctn := range contributions {
				if string(ctn.Status) == status {
					filtered = append(filtered, ctn)
				}
			}
			contributions = filtered
		}

		if len(contributions) == 0 {
			c.JSON(http.StatusOK, []models.Contribution{})
			return
		}

		// --- Pick the most recently updated contribution ---
		latest := contributions[0]
		for _, ctn := range contributions {
			if ctn.UpdatedAt.After(latest.UpdatedAt) {
				latest = ctn
			}
		}

		// --- Generate ETag from latest contribution ---
		etag := utils.GenerateETag(latest.ID, latest.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		// --- Add Last-Modified from latest contribution ---
		c.Header("Last-Modified", latest.UpdatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, contributions)
	}
}

// ---------------- GET ----------------
func GetContribution(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contribution id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		contribution, err := st.GetContribution(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}

		etag := utils.GenerateETag(contribution.ID, contribution.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		c.JSON(http.StatusOK, contribution)
	}
}
