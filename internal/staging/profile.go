package staging

import (
	"fmt"
	"regexp"
	"time"
)

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldEnum   FieldType = "enum"
)

// SchemaFormat enumerates supported payload formats.
type SchemaFormat string

const (
	FormatJSON SchemaFormat = "json"
	FormatCSV  SchemaFormat = "csv"
	FormatTSV  SchemaFormat = "tsv"
	FormatNone SchemaFormat = "none"
)

// Field declares one required or optional field in a profile's schema.
// CoerceString, when set, permits string-encoded values for int, number and
// bool fields; no other coercion is ever applied.
type Field struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required"`
	Values       []string  `json:"values,omitempty"`
	CoerceString bool      `json:"coerceString,omitempty"`
}

// Schema declares the structure an ingested payload must conform to.
// FilenamePattern, if set, is an anchored regular expression the object's
// base name must match regardless of format.
type Schema struct {
	Format          SchemaFormat `json:"format"`
	Fields          []Field      `json:"fields,omitempty"`
	FilenamePattern string       `json:"filenamePattern,omitempty"`
}

// Timestamp sources for partition-path derivation.
const (
	TimestampReceived      = "received"
	TimestampObjectCreated = "objectCreated"
)

// PartitionStrategy derives the staging-area subpath for accepted objects.
// Layout is a Go reference-time layout, default "2006/01/02". Timezone is an
// IANA zone name, default UTC.
type PartitionStrategy struct {
	Layout          string `json:"layout,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	TimestampSource string `json:"timestampSource,omitempty"`
}

// DataSourceProfile describes how to recognize, validate and stage one
// category of ingested files. Profiles are operator-managed and read-only
// from the pipeline's perspective.
type DataSourceProfile struct {
	ID              string            `json:"id"`
	PathPattern     string            `json:"pathPattern"`
	Schema          *Schema           `json:"schema,omitempty"`
	Partition       PartitionStrategy `json:"partition"`
	StaticTags      map[string]string `json:"staticTags,omitempty"`
	ComputeChecksum bool              `json:"computeChecksum,omitempty"`
}

// Validate checks a profile before it is admitted to the registry store.
func (p *DataSourceProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.PathPattern == "" {
		return fmt.Errorf("profile %s: pathPattern is required", p.ID)
	}
	if _, err := regexp.Compile("^" + p.PathPattern + "$"); err != nil {
		return fmt.Errorf("profile %s: invalid pathPattern: %w", p.ID, err)
	}
	if p.Schema != nil {
		switch p.Schema.Format {
		case FormatJSON, FormatCSV, FormatTSV, FormatNone, "":
		default:
			return fmt.Errorf("profile %s: unknown schema format %q", p.ID, p.Schema.Format)
		}
		if p.Schema.FilenamePattern != "" {
			if _, err := regexp.Compile("^" + p.Schema.FilenamePattern + "$"); err != nil {
				return fmt.Errorf("profile %s: invalid filenamePattern: %w", p.ID, err)
			}
		}
		for _, f := range p.Schema.Fields {
			switch f.Type {
			case FieldString, FieldInt, FieldNumber, FieldBool:
			case FieldEnum:
				if len(f.Values) == 0 {
					return fmt.Errorf("profile %s: enum field %s has no values", p.ID, f.Name)
				}
			default:
				return fmt.Errorf("profile %s: field %s has unknown type %q", p.ID, f.Name, f.Type)
			}
		}
	}
	if p.Partition.Timezone != "" {
		if _, err := time.LoadLocation(p.Partition.Timezone); err != nil {
			return fmt.Errorf("profile %s: invalid timezone: %w", p.ID, err)
		}
	}
	switch p.Partition.TimestampSource {
	case "", TimestampReceived, TimestampObjectCreated:
	default:
		return fmt.Errorf("profile %s: unknown timestampSource %q", p.ID, p.Partition.TimestampSource)
	}
	return nil
}
