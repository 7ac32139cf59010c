package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvWithFallback(t *testing.T) {
	t.Setenv("ENVUTIL_PRIMARY", "primary")
	t.Setenv("ENVUTIL_FALLBACK", "fallback")

	assert.Equal(t, "primary", GetEnvWithFallback("ENVUTIL_PRIMARY", "ENVUTIL_FALLBACK", "default"))
	assert.Equal(t, "fallback", GetEnvWithFallback("ENVUTIL_UNSET", "ENVUTIL_FALLBACK", "default"))
	assert.Equal(t, "default", GetEnvWithFallback("ENVUTIL_UNSET", "ENVUTIL_ALSO_UNSET", "default"))
}

func TestGetEnvIntWithFallback(t *testing.T) {
	t.Setenv("ENVUTIL_INT", "42")
	t.Setenv("ENVUTIL_BAD_INT", "not a number")

	assert.Equal(t, 42, GetEnvIntWithFallback("ENVUTIL_INT", "", 7))
	assert.Equal(t, 7, GetEnvIntWithFallback("ENVUTIL_BAD_INT", "", 7))
	assert.Equal(t, 7, GetEnvIntWithFallback("ENVUTIL_UNSET", "", 7))
}

func TestGetEnvDurationWithFallback(t *testing.T) {
	t.Setenv("ENVUTIL_DUR", "45s")
	assert.Equal(t, 45*time.Second, GetEnvDurationWithFallback("ENVUTIL_DUR", "", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDurationWithFallback("ENVUTIL_UNSET", "", time.Minute))
}

func TestGetEnvSliceWithFallback(t *testing.T) {
	t.Setenv("ENVUTIL_SLICE", "a, b ,c,,")
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvSliceWithFallback("ENVUTIL_SLICE", "", nil))
	assert.Equal(t, []string{"x"}, GetEnvSliceWithFallback("ENVUTIL_UNSET", "", []string{"x"}))
}
