package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNilSchemaAcceptsEverything(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate("anything.bin", []byte{0x00, 0xff, 0x13}, nil))
}

func TestValidateJSON(t *testing.T) {
	schema := &Schema{
		Format: FormatJSON,
		Fields: []Field{
			{Name: "bookingId", Type: FieldInt, Required: true},
			{Name: "pickup", Type: FieldString, Required: true},
			{Name: "fare", Type: FieldNumber},
			{Name: "status", Type: FieldEnum, Values: []string{"requested", "completed"}},
		},
	}
	v := NewValidator()

	tests := []struct {
		name       string
		payload    string
		wantReason string
	}{
		{
			name:    "conforming document",
			payload: `{"bookingId": 1234567890, "pickup": "airport", "fare": 23.5, "status": "completed"}`,
		},
		{
			name:    "optional fields absent",
			payload: `{"bookingId": 1, "pickup": "cbd"}`,
		},
		{
			name:    "batched documents all conforming",
			payload: `{"bookingId": 1, "pickup": "a"}{"bookingId": 2, "pickup": "b"}`,
		},
		{
			name:       "missing required field",
			payload:    `{"pickup": "airport"}`,
			wantReason: `required field "bookingId" is missing`,
		},
		{
			name:       "wrong type",
			payload:    `{"bookingId": "not-a-number", "pickup": "airport"}`,
			wantReason: `field "bookingId" must be an integer`,
		},
		{
			name:       "non-integral number",
			payload:    `{"bookingId": 12.5, "pickup": "airport"}`,
			wantReason: `field "bookingId" must be an integer`,
		},
		{
			name:       "enum violation",
			payload:    `{"bookingId": 1, "pickup": "airport", "status": "teleported"}`,
			wantReason: `"teleported" is not one of`,
		},
		{
			name:       "second batched document violates",
			payload:    `{"bookingId": 1, "pickup": "a"}{"pickup": "b"}`,
			wantReason: `document 2: required field "bookingId" is missing`,
		},
		{
			name:       "malformed payload",
			payload:    `{"bookingId": `,
			wantReason: "malformed JSON",
		},
		{
			name:       "not an object",
			payload:    `[1, 2, 3]`,
			wantReason: "not a JSON object",
		},
		{
			name:       "empty payload",
			payload:    ``,
			wantReason: "no JSON documents",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("rydebooking-1.json", []byte(tt.payload), schema)
			if tt.wantReason == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Reason, tt.wantReason)
		})
	}
}

func TestValidateJSONStringCoercion(t *testing.T) {
	v := NewValidator()

	strict := &Schema{Format: FormatJSON, Fields: []Field{
		{Name: "count", Type: FieldInt, Required: true},
	}}
	coercing := &Schema{Format: FormatJSON, Fields: []Field{
		{Name: "count", Type: FieldInt, Required: true, CoerceString: true},
	}}

	payload := []byte(`{"count": "42"}`)
	assert.Error(t, v.Validate("f.json", payload, strict))
	assert.NoError(t, v.Validate("f.json", payload, coercing))
	assert.Error(t, v.Validate("f.json", []byte(`{"count": "forty-two"}`), coercing))
}

func TestValidateCSV(t *testing.T) {
	schema := &Schema{
		Format: FormatCSV,
		Fields: []Field{
			{Name: "id", Type: FieldInt, Required: true},
			{Name: "city", Type: FieldString, Required: true},
			{Name: "tier", Type: FieldEnum, Values: []string{"gold", "silver"}},
		},
	}
	v := NewValidator()

	t.Run("conforming", func(t *testing.T) {
		payload := "id,city,tier\n1,brisbane,gold\n2,sydney,silver\n"
		assert.NoError(t, v.Validate("f.csv", []byte(payload), schema))
	})

	t.Run("missing required column", func(t *testing.T) {
		err := v.Validate("f.csv", []byte("city,tier\nbrisbane,gold\n"), schema)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, `missing required column "id"`)
	})

	t.Run("bad value type", func(t *testing.T) {
		err := v.Validate("f.csv", []byte("id,city,tier\nx,brisbane,gold\n"), schema)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, `must be an integer`)
	})

	t.Run("empty required value", func(t *testing.T) {
		err := v.Validate("f.csv", []byte("id,city,tier\n1,,gold\n"), schema)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, `required column "city" is empty`)
	})

	t.Run("enum violation names row", func(t *testing.T) {
		err := v.Validate("f.csv", []byte("id,city,tier\n1,brisbane,bronze\n"), schema)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, "row 2")
		assert.Contains(t, ve.Reason, `"bronze"`)
	})
}

func TestValidateTSV(t *testing.T) {
	schema := &Schema{
		Format: FormatTSV,
		Fields: []Field{{Name: "id", Type: FieldInt, Required: true}},
	}
	v := NewValidator()
	assert.NoError(t, v.Validate("f.tsv", []byte("id\tname\n7\talpha\n"), schema))
	assert.Error(t, v.Validate("f.tsv", []byte("name\nalpha\n"), schema))
}

func TestValidateFilenameConvention(t *testing.T) {
	schema := &Schema{
		Format:          FormatNone,
		FilenamePattern: `rydebooking-\d+\.json`,
	}
	v := NewValidator()

	assert.NoError(t, v.Validate("rydebooking-1234567890.json", nil, schema))

	err := v.Validate("booking.json", nil, schema)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "does not match convention")
}

func TestValidateSchemaWithoutFormat(t *testing.T) {
	schema := &Schema{Fields: []Field{{Name: "id", Type: FieldInt}}}
	err := NewValidator().Validate("f.json", []byte(`{"id": 1}`), schema)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "no file format")
}
