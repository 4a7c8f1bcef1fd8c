package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	models "github.com/phillip/impact-audit-go/models"
)

// writeError maps engine errors onto HTTP statuses: validation failures are
// 400 with the broken rule, lost version races are 409 so the caller re-reads
// and retries, ownership failures are 403.
func writeError(c *gin.Context, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "rule": ve.Rule})
	case errors.Is(err, models.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "state changed concurrently, re-read and retry"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// callerID reads the authenticated caller's id set by the auth middleware.
func callerID(c *gin.Context) (string, bool) {
	uid := c.GetString("user_id")
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return uid, true
}
