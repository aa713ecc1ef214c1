package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("fetch body: %w", NewTransportError("body", io.ErrUnexpectedEOF))

	assert.True(t, IsTransport(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "nntp body")
}

func TestNotFoundIsDistinctFromNonRetryable(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("stat: %w", ErrArticleNotFound)))
	assert.False(t, IsNotFound(ErrNoArchiveEntry))
	assert.True(t, IsNonRetryable(ErrNoArchiveEntry))
}

func TestNonRetryableErrorsAreDistinct(t *testing.T) {
	other := NewNonRetryableError("NZB file contains no files", nil)

	assert.True(t, IsNonRetryable(other))
	assert.False(t, errors.Is(other, ErrNoArchiveEntry))
	assert.False(t, errors.Is(fmt.Errorf("parse: %w", other), ErrNoArchiveEntry))
	assert.True(t, errors.Is(fmt.Errorf("select: %w", ErrNoArchiveEntry), ErrNoArchiveEntry))
	assert.True(t, errors.Is(other, NewNonRetryableError("NZB file contains no files", io.EOF)))
}

func TestIsResource(t *testing.T) {
	assert.True(t, IsResource(fmt.Errorf("acquire: %w", ErrPoolClosed)))
	assert.True(t, IsResource(ErrPoolUnavailable))
	assert.False(t, IsResource(NewTransportError("stat", io.EOF)))
}

func TestDecodeError(t *testing.T) {
	var err error = &DecodeError{Reason: "no =ybegin marker"}
	assert.True(t, IsDecode(fmt.Errorf("segment: %w", err)))
	assert.Equal(t, "yenc decode: no =ybegin marker", err.Error())
}
