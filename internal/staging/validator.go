package staging

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// Validator checks an ingested payload against a profile schema. It is pure:
// the orchestrator fetches the object content, the validator never touches
// storage and never panics on malformed input.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil when content conforms to schema, a *ValidationError
// naming the violation otherwise. A nil schema means the profile declares no
// expectations and everything passes. A schema that declares fields but no
// format is a profile misconfiguration, reported as a validation failure so
// the object still lands in the failed area with a reason.
func (v *Validator) Validate(objectName string, content []byte, schema *Schema) error {
	if schema == nil {
		return nil
	}

	if schema.FilenamePattern != "" {
		re, err := regexp.Compile("^" + schema.FilenamePattern + "$")
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("invalid filenamePattern %q: %v", schema.FilenamePattern, err)}
		}
		if !re.MatchString(objectName) {
			return &ValidationError{Reason: fmt.Sprintf("object name %q does not match convention %q", objectName, schema.FilenamePattern)}
		}
	}

	switch schema.Format {
	case FormatJSON:
		return v.validateJSON(content, schema.Fields)
	case FormatCSV:
		return v.validateCSV(content, ',', schema.Fields)
	case FormatTSV:
		return v.validateCSV(content, '\t', schema.Fields)
	case FormatNone, "":
		if len(schema.Fields) > 0 {
			return &ValidationError{Reason: "schema declares fields but no file format"}
		}
		return nil
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown schema format %q", schema.Format)}
	}
}

// validateJSON checks every JSON document in content. Payloads may contain
// several concatenated documents (delivery agents batch records into one
// object), each of which must be an object conforming to the fields.
func (v *Validator) validateJSON(content []byte, fields []Field) error {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	docs := 0
	for {
		var doc any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}
		docs++

		obj, ok := doc.(map[string]any)
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("document %d is not a JSON object", docs)}
		}
		if err := checkJSONFields(obj, fields, docs); err != nil {
			return err
		}
	}

	if docs == 0 && len(fields) > 0 {
		return &ValidationError{Reason: "payload contains no JSON documents"}
	}
	return nil
}

func checkJSONFields(obj map[string]any, fields []Field, doc int) error {
	for _, f := range fields {
		value, present := obj[f.Name]
		if !present || value == nil {
			if f.Required {
				return &ValidationError{Reason: fmt.Sprintf("document %d: required field %q is missing", doc, f.Name)}
			}
			continue
		}
		if err := checkJSONValue(value, f); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("document %d: %v", doc, err)}
		}
	}
	return nil
}

func checkJSONValue(value any, f Field) error {
	switch f.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string", f.Name)
		}
	case FieldInt:
		switch tv := value.(type) {
		case json.Number:
			if _, err := strconv.ParseInt(tv.String(), 10, 64); err != nil {
				return fmt.Errorf("field %q must be an integer", f.Name)
			}
		case string:
			if !f.CoerceString {
				return fmt.Errorf("field %q must be an integer", f.Name)
			}
			if _, err := strconv.ParseInt(tv, 10, 64); err != nil {
				return fmt.Errorf("field %q must be a string-encoded integer", f.Name)
			}
		default:
			return fmt.Errorf("field %q must be an integer", f.Name)
		}
	case FieldNumber:
		switch tv := value.(type) {
		case json.Number:
			// any numeric literal is acceptable
		case string:
			if !f.CoerceString {
				return fmt.Errorf("field %q must be a number", f.Name)
			}
			if _, err := strconv.ParseFloat(tv, 64); err != nil {
				return fmt.Errorf("field %q must be a string-encoded number", f.Name)
			}
		default:
			return fmt.Errorf("field %q must be a number", f.Name)
		}
	case FieldBool:
		switch tv := value.(type) {
		case bool:
			// acceptable as-is
		case string:
			if !f.CoerceString {
				return fmt.Errorf("field %q must be a boolean", f.Name)
			}
			if _, err := strconv.ParseBool(tv); err != nil {
				return fmt.Errorf("field %q must be a string-encoded boolean", f.Name)
			}
		default:
			return fmt.Errorf("field %q must be a boolean", f.Name)
		}
	case FieldEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be one of %v", f.Name, f.Values)
		}
		if !contains(f.Values, s) {
			return fmt.Errorf("field %q value %q is not one of %v", f.Name, s, f.Values)
		}
	}
	return nil
}

// validateCSV checks the header row for required columns, then every data
// row against the per-column type declarations.
func (v *Validator) validateCSV(content []byte, comma rune, fields []Field) error {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed delimited payload: %v", err)}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	for _, f := range fields {
		if _, ok := columns[f.Name]; !ok && f.Required {
			return &ValidationError{Reason: fmt.Sprintf("header is missing required column %q", f.Name)}
		}
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("row %d: malformed delimited payload: %v", row, err)}
		}
		row++

		for _, f := range fields {
			idx, ok := columns[f.Name]
			if !ok || idx >= len(record) {
				continue
			}
			value := record[idx]
			if value == "" {
				if f.Required {
					return &ValidationError{Reason: fmt.Sprintf("row %d: required column %q is empty", row, f.Name)}
				}
				continue
			}
			if err := checkCSVValue(value, f); err != nil {
				return &ValidationError{Reason: fmt.Sprintf("row %d: %v", row, err)}
			}
		}
	}
	return nil
}

func checkCSVValue(value string, f Field) error {
	switch f.Type {
	case FieldString:
	case FieldInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("column %q value %q must be an integer", f.Name, value)
		}
	case FieldNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("column %q value %q must be a number", f.Name, value)
		}
	case FieldBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("column %q value %q must be a boolean", f.Name, value)
		}
	case FieldEnum:
		if !contains(f.Values, value) {
			return fmt.Errorf("column %q value %q is not one of %v", f.Name, value, f.Values)
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
