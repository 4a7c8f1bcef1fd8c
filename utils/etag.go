package utils

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateETag builds a strong ETag from a document ID and its last
// update time. The same document at the same revision always yields
// the same tag.
func GenerateETag(id primitive.ObjectID, updatedAt time.Time) string {
	return fmt.Sprintf("\"%s-%x\"", id.Hex(), updatedAt.UTC().UnixNano())
}
