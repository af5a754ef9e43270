package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil is success", nil, Success},
		{"bare code", BadAccess, BadAccess},
		{"wrapped code", fmt.Errorf("grab button: %w", BadAlloc), BadAlloc},
		{"error with value", WithValue(BadValue, 300), BadValue},
		{"wrapped error with value", fmt.Errorf("ctx: %w", WithValue(BadDevice, 7)), BadDevice},
		{"foreign error", errors.New("boom"), BadImplementation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err))
		})
	}
}

func TestErrorValue(t *testing.T) {
	t.Run("value survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("touch accept: %w", WithValue(BadValue, 42))
		v, ok := ValueOf(err)
		assert.True(t, ok)
		assert.Equal(t, uint32(42), v)
		assert.True(t, errors.Is(err, BadValue))
	})

	t.Run("plain code has no value", func(t *testing.T) {
		_, ok := ValueOf(BadMatch)
		assert.False(t, ok)
	})

	t.Run("code names", func(t *testing.T) {
		assert.Equal(t, "BadAccess", BadAccess.Error())
		assert.Equal(t, "Code(99)", Code(99).String())
	})
}
