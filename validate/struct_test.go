package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineItem struct {
	SKU string `json:"sku"`
}

type order struct {
	OrderID string     `json:"orderId"`
	Amount  float64    `json:"amount"`
	Items   []lineItem `json:"items"`
}

func TestStruct_Validate_ReportsPositiveViolation(t *testing.T) {
	spec := &Spec{Rules: []FieldRule{
		{Path: "orderId", Constraints: []string{"required"}},
		{Path: "amount", Constraints: []string{"positive"}},
	}}
	v := NewStruct[order](spec)

	violations := v.Validate(order{OrderID: "o1", Amount: -5}, Options{})
	require.Len(t, violations, 1)
	assert.Equal(t, "amount", violations[0].PropertyPath)
	assert.Equal(t, "positive", violations[0].ConstraintName)
}

func TestStruct_Validate_StopAtFirst(t *testing.T) {
	spec := &Spec{Rules: []FieldRule{
		{Path: "orderId", Constraints: []string{"required"}},
		{Path: "amount", Constraints: []string{"positive"}},
	}}
	v := NewStruct[order](spec)

	violations := v.Validate(order{OrderID: "", Amount: -5}, Options{StopAtFirst: true})
	require.Len(t, violations, 1)
	assert.Equal(t, "orderId", violations[0].PropertyPath)
}

func TestStruct_Validate_NestedIndexedPath(t *testing.T) {
	spec := &Spec{Rules: []FieldRule{
		{Path: "items.0.sku", Constraints: []string{"required"}},
	}}
	v := NewStruct[order](spec)

	violations := v.Validate(order{Items: []lineItem{{SKU: ""}}}, Options{})
	require.Len(t, violations, 1)
	assert.Equal(t, "items.0.sku", violations[0].PropertyPath)
}

func TestStruct_Validate_PassesWhenNoViolations(t *testing.T) {
	spec := &Spec{Rules: []FieldRule{
		{Path: "amount", Constraints: []string{"positive"}},
	}}
	v := NewStruct[order](spec)

	violations := v.Validate(order{Amount: 10}, Options{})
	assert.Empty(t, violations)
}

func TestNoOp_AlwaysPasses(t *testing.T) {
	v := NoOp[order]{}
	assert.Empty(t, v.Validate(order{Amount: -5}, Options{}))
}
