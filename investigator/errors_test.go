package investigator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapping(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, &NotFoundError{Entity: "gacha item", Key: "x"}, ErrNotFound)
	assert.ErrorIs(t, &DuplicateNameError{Entity: "truth bullet", Name: "x"}, ErrDuplicateName)
	assert.ErrorIs(t, &InvalidArgumentError{Field: "name"}, ErrInvalidArgument)
	assert.ErrorIs(t, &ConflictError{Entity: "truth bullet"}, ErrConflict)

	var notFound *NotFoundError
	assert.True(t, errors.As(error(&NotFoundError{Entity: "guild config"}), &notFound))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		`gacha item "Golden Key" not found`,
		(&NotFoundError{Entity: "gacha item", Key: "Golden Key"}).Error(),
	)
	assert.Equal(
		t,
		"guild config not found",
		(&NotFoundError{Entity: "guild config"}).Error(),
	)
	assert.Equal(
		t,
		`a truth bullet named "knife" already exists`,
		(&DuplicateNameError{Entity: "truth bullet", Name: "knife"}).Error(),
	)
	assert.Equal(
		t,
		"amount: must not be negative",
		(&InvalidArgumentError{Field: "amount", Reason: "must not be negative"}).Error(),
	)
	assert.Equal(
		t,
		"must not be negative",
		(&InvalidArgumentError{Reason: "must not be negative"}).Error(),
	)
	assert.Equal(
		t,
		"truth bullet: already found",
		(&ConflictError{Entity: "truth bullet", Reason: "already found"}).Error(),
	)
}
