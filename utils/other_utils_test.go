package utils_test

import (
	"testing"

	"github.com/rafalfr/tinyproxy-go/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRandomValue_Range(t *testing.T) {
	v, err := utils.GetRandomValue(10, 20)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(10))
	assert.Less(t, v, int64(20))
}

func TestGetRandomValue_EqualBounds(t *testing.T) {
	v, err := utils.GetRandomValue(5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestShortText(t *testing.T) {
	assert.Equal(t, "hello", utils.ShortText("hello", 10))
	assert.Equal(t, "hel", utils.ShortText("hello world", 3))
}
