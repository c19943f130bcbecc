package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// HashEvidence computes the downtime idempotency key: SHA-256 of
// evidence quote + "_" + source file.
//
// Re-processing the same evidentiary text from the same file yields the same
// key, so the UNIQUE(source_hash) constraint turns the second insert into a skip.
func HashEvidence(quote, sourceFile string) string {
	h := sha256.Sum256([]byte(quote + "_" + sourceFile))
	return fmt.Sprintf("%x", h)
}

// HashBytes computes SHA-256 of raw file content (file digest gate).
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// NotificationKey computes the default uniqueness key for a notification:
// SHA-256 of "code:text:payload" with payload JSON-encoded (map keys sorted).
func NotificationKey(code NotificationCode, text string, payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	h := sha256.New()
	h.Write([]byte(string(code)))
	h.Write([]byte{':'})
	h.Write([]byte(text))
	h.Write([]byte{':'})
	h.Write(raw)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ConflictKey computes the uniqueness key for a (task, downtime) conflict.
func ConflictKey(taskID, downtimeID int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:task_%d:downtime_%d", CodeConflictDetected, taskID, downtimeID)))
	return fmt.Sprintf("%x", h)
}
