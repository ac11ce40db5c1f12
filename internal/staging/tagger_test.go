package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTagsDefaultPartition(t *testing.T) {
	event := IngressEvent{
		Bucket:     "lakestage-raw",
		ObjectPath: "rydebookings/rydebooking-1234567890.json",
		ObjectID:   "v1",
		ReceivedAt: time.Date(2018, 10, 26, 9, 30, 0, 0, time.UTC),
	}
	profile := &DataSourceProfile{ID: "rydebookings", PathPattern: "rydebookings"}

	tags, err := ComputeTags(event, profile)
	require.NoError(t, err)
	assert.Equal(t, "rydebookings/2018/10/26/rydebooking-1234567890.json", tags.PartitionPath)
	assert.Equal(t, "rydebookings", tags.DataSourceID)
	assert.Equal(t, event.ReceivedAt, tags.IngressTimestamp)
}

func TestComputeTagsObjectCreatedSource(t *testing.T) {
	event := IngressEvent{
		ObjectPath:      "rydebookings/booking.json",
		ReceivedAt:      time.Date(2018, 10, 27, 0, 5, 0, 0, time.UTC),
		ObjectCreatedAt: time.Date(2018, 10, 26, 23, 55, 0, 0, time.UTC),
	}
	profile := &DataSourceProfile{
		ID:          "rydebookings",
		PathPattern: "rydebookings",
		Partition:   PartitionStrategy{TimestampSource: TimestampObjectCreated},
	}

	tags, err := ComputeTags(event, profile)
	require.NoError(t, err)
	assert.Equal(t, "rydebookings/2018/10/26/booking.json", tags.PartitionPath)
}

func TestComputeTagsTimezone(t *testing.T) {
	// 2018-10-26 23:00 UTC is already the 27th in Brisbane (UTC+10).
	event := IngressEvent{
		ObjectPath: "rydebookings/booking.json",
		ReceivedAt: time.Date(2018, 10, 26, 23, 0, 0, 0, time.UTC),
	}
	profile := &DataSourceProfile{
		ID:          "rydebookings",
		PathPattern: "rydebookings",
		Partition:   PartitionStrategy{Timezone: "Australia/Brisbane"},
	}

	tags, err := ComputeTags(event, profile)
	require.NoError(t, err)
	assert.Equal(t, "rydebookings/2018/10/27/booking.json", tags.PartitionPath)
}

func TestComputeTagsCustomLayout(t *testing.T) {
	event := IngressEvent{
		ObjectPath: "metrics/m.csv",
		ReceivedAt: time.Date(2018, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	profile := &DataSourceProfile{
		ID:          "metrics",
		PathPattern: "metrics",
		Partition:   PartitionStrategy{Layout: "2006/01"},
	}

	tags, err := ComputeTags(event, profile)
	require.NoError(t, err)
	assert.Equal(t, "metrics/2018/03/m.csv", tags.PartitionPath)
}

func TestComputeTagsDeterministic(t *testing.T) {
	event := IngressEvent{
		ObjectPath: "rydebookings/booking.json",
		ReceivedAt: time.Date(2018, 10, 26, 9, 0, 0, 0, time.UTC),
	}
	profile := &DataSourceProfile{
		ID:          "rydebookings",
		PathPattern: "rydebookings",
		StaticTags:  map[string]string{"owner": "data-team"},
	}

	first, err := ComputeTags(event, profile)
	require.NoError(t, err)
	second, err := ComputeTags(event, profile)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTagsMetadata(t *testing.T) {
	tags := Tags{
		DataSourceID:     "rydebookings",
		IngressTimestamp: time.Date(2018, 10, 26, 9, 0, 0, 0, time.UTC),
		PartitionPath:    "rydebookings/2018/10/26/b.json",
		Static:           map[string]string{"owner": "data-team"},
	}

	meta := tags.Metadata()
	assert.Equal(t, "rydebookings", meta["Lakestage-Source"])
	assert.Equal(t, "rydebookings/2018/10/26/b.json", meta["Lakestage-Partition"])
	assert.Equal(t, "data-team", meta["owner"])
	assert.Equal(t, "2018-10-26T09:00:00Z", meta["Lakestage-Ingress-Time"])
}
