package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	testCases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/", "/", true},
		{"/a/b/", "/a/b", true},
		{"/a//b/./c", "/a/b/c", true},
		{"/a/../b", "/b", true},
		{"/..", "", false},
		{"/a/../../b", "", false},
		{"a/b", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Clean(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParentAndName(t *testing.T) {
	assert.Equal(t, "", Parent("/"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/a", Parent("/a/b"))

	assert.Equal(t, "", Name("/"))
	assert.Equal(t, "a", Name("/a"))
	assert.Equal(t, "b", Name("/a/b"))

	assert.Equal(t, "a", FirstComponent("/a/b/c"))
	assert.Equal(t, "a", FirstComponent("a"))
}

func TestCoversAndBeneath(t *testing.T) {
	assert.True(t, Covers("/", "/x"))
	assert.True(t, Covers("/a", "/a"))
	assert.True(t, Covers("/a", "/a/b"))
	assert.False(t, Covers("/a", "/ab"))

	assert.True(t, IsBeneath("/", "/a"))
	assert.True(t, IsBeneath("/a", "/a/b/c"))
	assert.False(t, IsBeneath("/a", "/a"))
	assert.False(t, IsBeneath("/a/b", "/a"))
	assert.False(t, IsBeneath("/a", "/abc/d"))

	assert.Equal(t, "/a", NextComponent("/", "/a/b/c"))
	assert.Equal(t, "/a/b", NextComponent("/a", "/a/b/c"))
}

func TestRelAndToDisk(t *testing.T) {
	rel, ok := Rel("/src/main", "/src/main/x/y.txt")
	assert.True(t, ok)
	assert.Equal(t, "/x/y.txt", rel)

	rel, ok = Rel("/src/main", "/src/main")
	assert.True(t, ok)
	assert.Equal(t, "/", rel)

	_, ok = Rel("/src/main", "/src/mainline/y.txt")
	assert.False(t, ok)

	assert.Equal(t, "/src/main/x/y.txt", ToDisk("/src/main", "/x/y.txt"))
	assert.Equal(t, "/src/main", ToDisk("/src/main/", "/"))
}

func TestMatchesSubscription(t *testing.T) {
	testCases := []struct {
		sub  string
		path string
		want bool
	}{
		{"/", "/a/b/c", true},
		{"/a", "/a", true},
		{"/a", "/a/b/c", true},
		{"/a", "/ab", false},
		{"!/a", "/a", true},
		{"!/a", "/a/b", true},
		{"!/a", "/a/b/c", false},
		{"!/", "/", true},
		{"!/", "/x", true},
		{"!/", "/x/y", false},
	}

	for _, tc := range testCases {
		t.Run(tc.sub+" "+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchesSubscription(tc.sub, tc.path))
		})
	}
}
