package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortHashCapsLength(t *testing.T) {
	assert.Equal(t, "abcdef01", shortHash("abcdef0123456789"))
	assert.Equal(t, "abc", shortHash("abc"))
}

func TestFullCarriesAppName(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), AppName+"/"))
	assert.NotEmpty(t, Commit)
}
