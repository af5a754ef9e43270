package logger

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARNING", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestSetLevelReachesComponents(t *testing.T) {
	prev := Logger.GetLevel()
	defer Logger.SetLevel(prev)

	l := WithPrefix("test")
	assert.Same(t, l, WithPrefix("test"))

	SetLevel("debug")
	assert.Equal(t, log.DebugLevel, l.GetLevel())
	SetLevel("")
	assert.Equal(t, log.DebugLevel, Logger.GetLevel())
	SetLevel("error")
	assert.Equal(t, log.ErrorLevel, l.GetLevel())
}
