package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcludeToRegexp(t *testing.T) {
	testCases := []struct {
		exclude string
		want    string
	}{
		{"**/*.bak", `.*\/.*\.bak`},
		{"*.log", `.*\.log`},
		{"/tmp/", `\/tmp`},
		{"/a/**", `\/a\/.*`},
		{"/x[1]-y", `\/x\[1\]\-y`},
	}

	for _, tc := range testCases {
		t.Run(tc.exclude, func(t *testing.T) {
			assert.Equal(t, tc.want, excludeToRegexp(tc.exclude))
		})
	}
}

func TestExcludedRel(t *testing.T) {
	testCases := []struct {
		name    string
		exclude string
		rel     string
		want    bool
	}{
		{"backup at top", "**/*.bak", "/notes.bak", true},
		{"backup nested", "**/*.bak", "/a/b/notes.bak", true},
		{"plain file kept", "**/*.bak", "/notes.txt", false},
		{"extension glob", "*.log", "/deep/server.log", true},
		{"directory itself", "/tmp/", "/tmp", true},
		{"file under excluded directory", "/tmp/", "/tmp/a/b.txt", true},
		{"sibling with shared prefix", "/tmp/", "/tmpfiles/a.txt", false},
		{"root never excluded", "/**", "/", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pattern, err := compileExclude(tc.exclude)
			require.NoError(t, err)
			assert.Equal(t, tc.want, excludedRel(pattern, tc.rel))
		})
	}
}

func TestExcludedRelNilPattern(t *testing.T) {
	assert.False(t, excludedRel(nil, "/anything"))
}
