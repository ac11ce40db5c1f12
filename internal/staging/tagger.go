package staging

import (
	"fmt"
	"time"
)

const defaultPartitionLayout = "2006/01/02"

// Tags is the metadata set applied to an accepted object when it is placed
// in the staging area.
type Tags struct {
	DataSourceID     string
	IngressTimestamp time.Time
	PartitionPath    string
	Static           map[string]string
}

// ComputeTags derives the tag set for an accepted object. It is a pure
// function of the event and profile: replays of the same event always map to
// the same partition path, which keeps retried moves idempotent.
func ComputeTags(event IngressEvent, profile *DataSourceProfile) (Tags, error) {
	ts := event.ReceivedAt
	if profile.Partition.TimestampSource == TimestampObjectCreated {
		ts = event.ObjectCreatedAt
	}

	loc := time.UTC
	if profile.Partition.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(profile.Partition.Timezone)
		if err != nil {
			return Tags{}, fmt.Errorf("profile %s: load timezone: %w", profile.ID, err)
		}
	}

	layout := profile.Partition.Layout
	if layout == "" {
		layout = defaultPartitionLayout
	}

	partition := fmt.Sprintf("%s/%s/%s", profile.ID, ts.In(loc).Format(layout), event.ObjectName())

	static := make(map[string]string, len(profile.StaticTags))
	for k, v := range profile.StaticTags {
		static[k] = v
	}

	return Tags{
		DataSourceID:     profile.ID,
		IngressTimestamp: ts,
		PartitionPath:    partition,
		Static:           static,
	}, nil
}

// Metadata flattens the tag set into object-store user metadata.
func (t Tags) Metadata() map[string]string {
	meta := make(map[string]string, len(t.Static)+3)
	for k, v := range t.Static {
		meta[k] = v
	}
	meta["Lakestage-Source"] = t.DataSourceID
	meta["Lakestage-Ingress-Time"] = t.IngressTimestamp.UTC().Format(time.RFC3339)
	meta["Lakestage-Partition"] = t.PartitionPath
	return meta
}
