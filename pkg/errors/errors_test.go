package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorID
	}{
		{"nil", nil, IDNone},
		{"app error", New(IDWriteError, ErrWrite, "x"), IDWriteError},
		{"wrapped app error", fmt.Errorf("outer: %w", New(IDParseError, ErrParse, "x")), IDParseError},
		{"destroy sentinel", fmt.Errorf("x: %w", ErrDestroyInProgress), IDDestroyInProgress},
		{"unsupported type", ErrUnsupportedType, IDMissingParams},
		{"not found", fmt.Errorf("x: %w", ErrDocumentNotFound), IDRetrieveFailed},
		{"delete", ErrDelete, IDDeleteError},
		{"unknown", errors.New("boom"), IDRetrieveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IDOf(tt.err))
		})
	}
}

func TestWrapKeepsChainAndID(t *testing.T) {
	assert.Nil(t, Wrap(IDReadError, nil, "x"))

	base := fmt.Errorf("row: %w", ErrIndexNotFound)
	err := Wrap(IDRetrieveFailed, base, "opening index")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(err))
	assert.Same(t, err, Wrap(IDRetrieveFailed, err, "again"))
	assert.True(t, IsNotFound(err))
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(ErrDocumentExists))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(New(IDMissingParams, ErrInvalidInput, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("boom")))
	assert.Equal(t, http.StatusOK, HTTPStatusCode(nil))
}
