package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(eventName, key, eTag, versionID string) string {
	return `{
	  "Records": [
	    {
	      "eventName": "` + eventName + `",
	      "eventTime": "2018-10-26T09:30:00Z",
	      "s3": {
	        "bucket": {"name": "lakestage-raw"},
	        "object": {
	          "key": "` + key + `",
	          "eTag": "` + eTag + `",
	          "versionId": "` + versionID + `",
	          "size": 1024,
	          "userMetadata": {"X-Amz-Meta-Origin": "sftp-drop"}
	        }
	      }
	    }
	  ]
	}`
}

func TestDecodeNotification(t *testing.T) {
	receivedAt := time.Date(2018, 10, 26, 9, 31, 0, 0, time.UTC)
	payload := notification("s3:ObjectCreated:Put", "rydebookings%2Frydebooking-1234567890.json", "abc123", "v-7")

	events, err := DecodeNotification([]byte(payload), receivedAt)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "lakestage-raw", event.Bucket)
	assert.Equal(t, "rydebookings/rydebooking-1234567890.json", event.ObjectPath)
	assert.Equal(t, "v-7", event.ObjectID)
	assert.Equal(t, int64(1024), event.Size)
	assert.Equal(t, receivedAt, event.ReceivedAt)
	assert.Equal(t, time.Date(2018, 10, 26, 9, 30, 0, 0, time.UTC), event.ObjectCreatedAt)
	assert.Equal(t, "sftp-drop", event.Metadata["X-Amz-Meta-Origin"])
	assert.Equal(t, "rydebooking-1234567890.json", event.ObjectName())
}

func TestDecodeNotificationFallsBackToETag(t *testing.T) {
	payload := notification("s3:ObjectCreated:CompleteMultipartUpload", "a/b.csv", "etag-9", "")
	events, err := DecodeNotification([]byte(payload), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "etag-9", events[0].ObjectID)
}

func TestDecodeNotificationRejectsMissingIdentity(t *testing.T) {
	payload := notification("s3:ObjectCreated:Put", "a/b.csv", "", "")
	_, err := DecodeNotification([]byte(payload), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no object identity")
}

func TestDecodeNotificationSkipsNonCreateEvents(t *testing.T) {
	payload := notification("s3:ObjectRemoved:Delete", "a/b.csv", "etag", "")
	events, err := DecodeNotification([]byte(payload), time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeNotificationMalformedPayload(t *testing.T) {
	_, err := DecodeNotification([]byte("not json"), time.Now())
	require.Error(t, err)
}
