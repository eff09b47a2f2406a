package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
)

type sampleLine struct {
	SellerID string `json:"seller_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=1"`
}

type sampleInput struct {
	Name  string       `json:"name" validate:"required"`
	Lines []sampleLine `json:"lines" validate:"required,min=1,dive"`
}

func TestStructValid(t *testing.T) {
	err := Struct(&sampleInput{Name: "ok", Lines: []sampleLine{{SellerID: "s", Quantity: 1}}})
	require.NoError(t, err)
}

func TestStructReportsNestedFields(t *testing.T) {
	err := Struct(&sampleInput{Lines: []sampleLine{{Quantity: 0}}})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["name"])
	assert.Equal(t, "is required", details["lines[0].seller_id"])
	assert.Equal(t, "must be greater than or equal to 1", details["lines[0].quantity"])
}

func TestStructEmptySlice(t *testing.T) {
	err := Struct(&sampleInput{Name: "x", Lines: []sampleLine{}})
	require.Error(t, err)

	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Contains(t, details, "lines")
}
