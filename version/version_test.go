package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDowngrade(t *testing.T) {
	testCases := []struct {
		previous string
		next     string
		want     bool
	}{
		{previous: "", next: "0.1.0", want: false},
		{previous: "1.2.0", next: "1.2.0", want: false},
		{previous: "1.2.0", next: "1.3.0", want: false},
		{previous: "v1.2.0", next: "1.10.0", want: false},
		{previous: "1.3.0", next: "1.2.9", want: true},
		{previous: "2.0.0", next: "2.0.0-rc1", want: true},
	}

	for _, tc := range testCases {
		got, err := IsDowngrade(tc.previous, tc.next)
		require.NoError(t, err, "%s -> %s", tc.previous, tc.next)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.previous, tc.next)
	}
}

func TestIsDowngradeInvalid(t *testing.T) {
	_, err := IsDowngrade("1.0.0", "not-a-version")
	assert.Error(t, err)

	_, err = IsDowngrade("garbage", "1.0.0")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "development", Version())
}
