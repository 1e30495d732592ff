package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessageAndUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, ErrCodeInternal, "saving slice")

	assert.Equal(t, "saving slice: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeInternal, GetCode(err))
}

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundf("slice %s not found", "s1")))
	assert.True(t, IsConflict(Conflict("duplicate slug")))
	assert.True(t, IsValidation(ValidationField("params", "must be JSON")))
	assert.True(t, IsForeignKey(ForeignKey("unknown source")))

	plain := stderrors.New("plain")
	assert.False(t, IsNotFound(plain))
	assert.Equal(t, ErrorCode(""), GetCode(plain))
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	inner := NotFound("missing")
	outer := Wrap(inner, ErrCodeInternal, "loading")
	// The outer code wins for GetCode, but errors.As still finds the outer AppError only.
	assert.Equal(t, ErrCodeInternal, GetCode(outer))
	assert.True(t, stderrors.Is(outer, inner))
}
