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
)

// ---------------- LIST ----------------
func ListNotifications(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		recipientID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		notifications, err := st.ListNotifications(ctx, recipientID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch notifications"})
			return
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// ---------------- MARK READ ----------------
func MarkNotificationRead(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		recipientID, err := primitive.ObjectIDFromHex(uid)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}

		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := st.MarkNotificationRead(ctx, oid, recipientID); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "notification marked read", "id": oid.Hex()})
	}
}
