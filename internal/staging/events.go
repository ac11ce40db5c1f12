package staging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// IngressEvent is one notification of a new object in the raw area.
// ObjectID is the storage-assigned identity (version id when available,
// else ETag) and serves as the idempotency key: object paths are reused
// across retries and copies, ids are not.
type IngressEvent struct {
	Bucket          string
	ObjectPath      string
	ObjectID        string
	Size            int64
	ReceivedAt      time.Time
	ObjectCreatedAt time.Time
	Metadata        map[string]string
}

// bucketNotification mirrors the S3-style event payload MinIO publishes to
// the notification topic.
type bucketNotification struct {
	Records []struct {
		EventName string `json:"eventName"`
		EventTime string `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key          string            `json:"key"`
				ETag         string            `json:"eTag"`
				VersionID    string            `json:"versionId"`
				Size         int64             `json:"size"`
				UserMetadata map[string]string `json:"userMetadata"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeNotification parses a bucket notification message into ingress
// events. Object keys arrive URL-encoded and are unescaped here. Events
// without a usable object identity are rejected rather than processed under
// a path-derived key.
func DecodeNotification(payload []byte, receivedAt time.Time) ([]IngressEvent, error) {
	var note bucketNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, fmt.Errorf("decode bucket notification: %w", err)
	}

	events := make([]IngressEvent, 0, len(note.Records))
	for _, rec := range note.Records {
		if !strings.HasPrefix(rec.EventName, "s3:ObjectCreated:") {
			continue
		}

		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("unescape object key %q: %w", rec.S3.Object.Key, err)
		}

		objectID := rec.S3.Object.VersionID
		if objectID == "" {
			objectID = rec.S3.Object.ETag
		}
		if objectID == "" {
			return nil, fmt.Errorf("notification for %s/%s carries no object identity", rec.S3.Bucket.Name, key)
		}

		createdAt := receivedAt
		if rec.EventTime != "" {
			if t, err := time.Parse(time.RFC3339, rec.EventTime); err == nil {
				createdAt = t
			}
		}

		events = append(events, IngressEvent{
			Bucket:          rec.S3.Bucket.Name,
			ObjectPath:      key,
			ObjectID:        objectID,
			Size:            rec.S3.Object.Size,
			ReceivedAt:      receivedAt,
			ObjectCreatedAt: createdAt,
			Metadata:        rec.S3.Object.UserMetadata,
		})
	}
	return events, nil
}

// ObjectName returns the base name of the event's object path.
func (e IngressEvent) ObjectName() string {
	if idx := strings.LastIndex(e.ObjectPath, "/"); idx >= 0 {
		return e.ObjectPath[idx+1:]
	}
	return e.ObjectPath
}
