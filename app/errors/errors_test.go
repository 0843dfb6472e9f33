package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError(t *testing.T) {
	t.Parallel()

	t.Run("ok/with_merges_metadata", func(t *testing.T) {
		t.Parallel()

		err := With(NewWith("boom", "owner", "10.0.0.5"), "port", 50000)
		assert.Equal(t, "boom", err.Error())
		assert.Equal(t, map[string]any{"owner": "10.0.0.5", "port": 50000}, err.Metadata())
	})

	t.Run("ok/cause_in_message", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("exit status 4")
		err := WithCause(ErrExternalCommand, cause, "rule", "50000/tcp")
		assert.Equal(t, "external command failed: exit status 4", err.Error())
		assert.Equal(t, "external command failed", err.Message())
		assert.ErrorIs(t, err, ErrExternalCommand)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("ok/with_keeps_cause", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("disk full")
		err := With(NewWithCause("failed saving", cause), "path", "/tmp/x")
		assert.Equal(t, cause, err.Cause())
	})

	t.Run("err/odd_fields", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { _ = NewWith("boom", "owner") })
	})
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		expKind error
	}{
		{"ok/invalid_argument", fmt.Errorf("%w: bad owner", ErrInvalidArgument), ErrInvalidArgument},
		{"ok/conflict_structured", With(fmt.Errorf("%w: taken", ErrConflict), "port", 1), ErrConflict},
		{"ok/not_found", fmt.Errorf("wrapped: %w", ErrNotFound), ErrNotFound},
		{"ok/external_command", WithCause(ErrExternalCommand, errors.New("x")), ErrExternalCommand},
		{"ok/io", ErrIO, ErrIO},
		{"ok/new_kind", fmt.Errorf("%w: 10.0.0.5", NewKind("owner already bound", ErrConflict)), ErrConflict},
		{"ok/unknown", errors.New("something"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expKind, Kind(tt.err))
		})
	}
}
