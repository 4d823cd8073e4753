package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func TestJSON_Convert_RoundTrip(t *testing.T) {
	c := NewJSON[order]()
	v, err := c.Convert([]byte(`{"orderId":"o1","amount":12.5}`), nil)
	require.NoError(t, err)
	assert.Equal(t, order{OrderID: "o1", Amount: 12.5}, v)
}

func TestJSON_Convert_InvalidJSON(t *testing.T) {
	c := NewJSON[order]()
	_, err := c.Convert([]byte(`not json`), nil)
	require.Error(t, err)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestJSON_Convert_SchemaRejectsMissingRequiredField(t *testing.T) {
	schema := &Schema{
		Name: "order",
		Fields: []Field{
			{Name: "orderId", Type: FieldString, Required: true},
			{Name: "amount", Type: FieldNumber, Required: true},
		},
	}
	c := NewJSONWithSchema[order](schema)

	_, err := c.Convert([]byte(`{"orderId":"o1"}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")
}

func TestJSON_Convert_SchemaAllowsCompletePayload(t *testing.T) {
	schema := &Schema{
		Fields: []Field{
			{Name: "orderId", Type: FieldString, Required: true},
			{Name: "amount", Type: FieldNumber, Required: true},
		},
	}
	c := NewJSONWithSchema[order](schema)

	v, err := c.Convert([]byte(`{"orderId":"o1","amount":-5}`), nil)
	require.NoError(t, err)
	assert.Equal(t, -5.0, v.Amount)
}
