package ocelot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocelot-io/ocelot"
)

func TestAncestorPaths(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/docs/a/b.txt", []string{"/docs/a", "/docs", "/"}},
		{"/docs/a.txt", []string{"/docs", "/"}},
		{"/a.txt", []string{"/"}},
		{"/", nil},
		{"relative/path", nil},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ocelot.AncestorPaths(tt.path), "path %q", tt.path)
	}
}

func TestDescendantOf(t *testing.T) {
	assert.True(t, ocelot.DescendantOf("/docs/a.txt", "/docs"))
	assert.True(t, ocelot.DescendantOf("/docs/sub/a.txt", "/docs"))
	assert.True(t, ocelot.DescendantOf("/docs", "/"))
	assert.False(t, ocelot.DescendantOf("/docs", "/docs"), "a directory is not its own descendant")
	assert.False(t, ocelot.DescendantOf("/docs2/a.txt", "/docs"), "sibling prefix must not match")
	assert.False(t, ocelot.DescendantOf("/", "/"))
}

func TestParseObject(t *testing.T) {
	obj, err := ocelot.ParseObject("user:alice")
	require.NoError(t, err)
	assert.Equal(t, ocelot.Object{Type: "user", ID: "alice"}, obj)

	// IDs may contain colons; only the first separates the type.
	obj, err = ocelot.ParseObject("file:/docs/a:b.txt")
	require.NoError(t, err)
	assert.Equal(t, ocelot.Object{Type: "file", ID: "/docs/a:b.txt"}, obj)

	for _, bad := range []string{"", "nocolon", ":alice", "user:"} {
		_, err := ocelot.ParseObject(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestObjectString(t *testing.T) {
	obj := ocelot.Object{Type: "file", ID: "/docs/a.txt"}
	assert.Equal(t, "file:/docs/a.txt", obj.String())

	parsed, err := ocelot.ParseObject(obj.String())
	require.NoError(t, err)
	assert.Equal(t, obj, parsed)
}

func TestTupleExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, ocelot.Tuple{}.Expired(now), "no expiry never expires")

	past := now.Add(-time.Minute)
	assert.True(t, ocelot.Tuple{ExpiresAt: &past}.Expired(now))

	future := now.Add(time.Minute)
	assert.False(t, ocelot.Tuple{ExpiresAt: &future}.Expired(now))
}
