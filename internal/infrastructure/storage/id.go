package storage

import (
	"fmt"
	"time"
)

// idBucket groups creation times into coarse windows so that two
// concurrent writers creating the same URL land on the same identity
// and collide instead of forking the story.
const idBucket = 30 * 24 * time.Hour

func storyID(canonicalURL string, createdAt time.Time) string {
	bucket := createdAt.UTC().UnixNano() / int64(idBucket)
	return fmt.Sprintf("%d:%s", bucket, canonicalURL)
}
