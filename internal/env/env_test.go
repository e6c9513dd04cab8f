package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/modelport/internal/envvar"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Environment
	}{
		{"", Development},
		{"development", Development},
		{"PROD", Production},
		{" production ", Production},
		{"test", Test},
		{"staging", Development},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.in), "input %q", tt.in)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(envvar.ModelportEnv, "production")
	assert.True(t, FromEnv().IsProduction())
}
