// Package id generates job identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate returns a job ID of the form job-<unix>-<hex>, for example
// job-1701432000-a1b2c3d4. The timestamp keeps IDs roughly sortable by
// creation time; the suffix makes them unique within a second.
func Generate() string {
	now := time.Now().Unix()
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("job-%d", now)
	}
	return fmt.Sprintf("job-%d-%s", now, hex.EncodeToString(suffix))
}
