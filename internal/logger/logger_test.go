package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env        string
		debugLevel bool
	}{
		{env: "production", debugLevel: false},
		{env: "development", debugLevel: true},
		{env: "", debugLevel: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			log, err := New(tt.env)
			require.NoError(t, err)
			require.NotNil(t, log)
			assert.Equal(t, tt.debugLevel, log.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		})
	}
}
