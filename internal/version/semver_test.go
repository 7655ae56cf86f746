package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Semver{Major: 1, Minor: 2, Patch: 3}, v)

	for _, bad := range []string{"", "1.2", "1.2.3.4", "a.b.c", "1.-2.3"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestBumpRules(t *testing.T) {
	start := Semver{Major: 1, Minor: 2, Patch: 3}
	tests := []struct {
		kind BumpKind
		want string
	}{
		{BumpPatch, "1.2.4"},
		{BumpMinor, "1.3.0"},
		{BumpMajor, "2.0.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, start.Bump(tt.kind).String(), string(tt.kind))
	}
}

func TestBumpIsMonotonic(t *testing.T) {
	v := Semver{Major: 1, Minor: 2, Patch: 3}
	for _, kind := range []BumpKind{BumpPatch, BumpMinor, BumpMajor} {
		assert.True(t, v.Less(v.Bump(kind)), string(kind))
	}
}

func TestParseBumpKind(t *testing.T) {
	kind, err := ParseBumpKind("MINOR")
	require.NoError(t, err)
	assert.Equal(t, BumpMinor, kind)

	_, err = ParseBumpKind("huge")
	assert.Error(t, err)
}
