package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"no leading slash", "a/b", "/a/b"},
		{"backslashes", `\a\b\c`, "/a/b/c"},
		{"mixed separators", `/a\b/c`, "/a/b/c"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"double slashes", "/a//b", "/a/b"},
		{"root backslash", `\`, "/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"/", "", `\a\b`, "/a/b/", "a//b//c", `\\x\\y\\`}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equalf(t, once, twice, "Normalize not idempotent for %q", in)
	}
}

func TestParent(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/b/c", "/a/b"},
		{"/a", "/"},
		{"/", "/"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Parent(tc.in))
	}
}

func TestBaseAndJoin(t *testing.T) {
	assert.Equal(t, "c", Base("/a/b/c"))
	assert.Equal(t, "", Base("/"))
	assert.Equal(t, "/docs/note.txt", Join("/docs", "note.txt"))
	assert.Equal(t, "/note.txt", Join("/", "note.txt"))
}
