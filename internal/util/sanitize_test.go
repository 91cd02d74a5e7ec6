package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	tt := []struct {
		in   string
		want string
	}{
		{"+919876543210", "+91******3210"},
		{"9876543210", "******3210"},
		{"123", "***"},
		{"", ""},
	}
	for _, tc := range tt {
		assert.Equal(t, tc.want, MaskPhone(tc.in), tc.in)
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Asha &lt;b&gt;", SanitizeInput("  Asha <b>  "))
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.True(t, ContainsSuspicious("JavaScript:void(0)"))
	assert.False(t, ContainsSuspicious("Asha Rao"))
}
