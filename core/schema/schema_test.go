package schema_test

import (
	"errors"
	"testing"

	"github.com/relabs-tech/kumii/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	refContent = `{ "$id" : "https://kumii.test/refs/content.json",
		"type" : "string", "minLength": 1, "maxLength": 5000 }`

	messageSchema = `
	{ "$id" : "https://kumii.test/message.json",
	  "type": "object",
	  "required": ["content"],
	  "properties": {
		"content": { "$ref": "https://kumii.test/refs/content.json" },
		"emoji": { "type": "string", "maxLength": 10 }
	  }
	}`
)

func newValidator(t *testing.T) *schema.Validator {
	v, err := schema.NewValidator([]string{messageSchema}, []string{refContent})
	require.NoError(t, err)
	return v
}

func TestValidateString(t *testing.T) {
	v := newValidator(t)
	schemaID := "https://kumii.test/message.json"

	assert.NoError(t, v.ValidateString(`{"content":"hello"}`, schemaID))
	assert.NoError(t, v.ValidateBytes([]byte(`{"content":"hello","emoji":"x"}`), schemaID))

	err := v.ValidateString(`{"emoji":"far too long emoji"}`, schemaID)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Details, 2)
	assert.Equal(t, "content", verr.Details[0].Field)
	assert.Equal(t, "emoji", verr.Details[1].Field)

	err = v.ValidateString(`{"content":""}`, schemaID)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "content", verr.Details[0].Field)

	err = v.ValidateString(`[]`, schemaID)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "", verr.Details[0].Field)
}

func TestValidateStruct(t *testing.T) {
	v := newValidator(t)
	type message struct {
		Content string `json:"content"`
	}
	assert.NoError(t, v.ValidateStruct(message{"something"}, "https://kumii.test/message.json"))

	type wrong struct {
		Text string `json:"text"`
	}
	assert.Error(t, v.ValidateStruct(wrong{"something"}, "https://kumii.test/message.json"))
}

func TestHasSchema(t *testing.T) {
	v := newValidator(t)
	assert.True(t, v.HasSchema("https://kumii.test/message.json"))
	assert.False(t, v.HasSchema("https://kumii.test/refs/content.json"))
	assert.Error(t, v.ValidateString(`{}`, "https://kumii.test/unknown.json"))
}

func TestNewValidatorErrors(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type":"object"}`}, nil)
	assert.Error(t, err, "missing $id")

	_, err = schema.NewValidator([]string{`{not json`}, nil)
	assert.Error(t, err)
}
