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

// ---------------- LIST MINE ----------------
func ListMyAudits(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		audits, err := st.ListAuditsByAuditor(ctx, auditorID, c.Query("status"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch audits"})
			return
		}
		if audits == nil {
			audits = []models.Audit{}
		}

		c.JSON(http.StatusOK, audits)
	}
}

// ---------------- GET ----------------
func GetAudit(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		requesterID := c.GetString("user_id")

		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		audit, err := st.GetAudit(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}

		// ❗ Only the owning auditor or an admin can read an engagement
		if role != "admin" && audit.AuditorID.Hex() != requesterID {
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not own this audit"})
			return
		}

		etag := utils.GenerateETag(audit.ID, audit.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		c.JSON(http.StatusOK, audit)
	}
}

// ---------------- START ----------------
func StartAudit(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := st.MarkAuditInProgress(ctx, oid, auditorID, time.Now()); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "audit started", "id": oid.Hex()})
	}
}

// ---------------- UPLOAD EVIDENCE ----------------
// Multipart upload of supporting documents. The returned URLs go into the
// report's documentation list.
func UploadAuditEvidence(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		audit, err := st.GetAudit(ctx, oid)
		if err != nil {
			writeError(c, err)
			return
		}
		if audit.AuditorID != auditorID {
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not own this audit"})
			return
		}
		if audit.Status != models.AuditAccepted && audit.Status != models.AuditInProgress {
			c.JSON(http.StatusBadRequest, gin.H{"error": "audit is no longer accepting evidence"})
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}

		files := form.File["evidence"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no evidence files provided"})
			return
		}

		// --- Upload each file to Cloudinary ---
		var urls []string
		for _, fileHeader := range files {
			file, err := fileHeader.Open()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open uploaded file"})
				return
			}

			url, err := utils.UploadEvidenceToCloudinary(file, fileHeader)
			file.Close()
			if err != nil {
				// The batch is all-or-nothing: drop anything already stored.
				for _, uploaded := range urls {
					utils.DeleteFromCloudinary(uploaded)
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not upload evidence"})
				return
			}
			urls = append(urls, url)
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "evidence uploaded",
			"urls":    urls,
		})
	}
}

// ---------------- SUBMIT REPORT ----------------
// The synchronous completion path: quality gate, milestone transition,
// escrow settlement and compensation in one call. Partial infrastructure
// failures still return 200 with status partial and the warning list.
func SubmitAuditReport(cfg *config.Config, engine *services.SubmissionEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		auditorID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		auditID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit id"})
			return
		}

		var sub models.ReportSubmission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := engine.SubmitReport(ctx, auditID, auditorID, sub)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
