package sdfat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveNestedPaths(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT16())
	require.NoError(t, fsys.Mkdir("/a"))
	require.NoError(t, fsys.Mkdir("/a/b"))
	writeFile(t, fsys, "/a/b/c.txt", []byte("deep"))

	fi, err := fsys.Stat("/a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, "c.txt", fi.Name())

	// Separator runs collapse and dot components are no-ops.
	fi, err = fsys.Stat("//a///./b//c.txt")
	require.NoError(t, err)
	require.Equal(t, "c.txt", fi.Name())

	// Dot-dot walks the resolver's own parent chain.
	fi, err = fsys.Stat("/a/b/../b/c.txt")
	require.NoError(t, err)
	require.Equal(t, "c.txt", fi.Name())
	fi, err = fsys.Stat("/a/../a/b/../../a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, "c.txt", fi.Name())

	// Dot-dot above the root stays at the root.
	fi, err = fsys.Stat("/../a")
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	// Case-insensitive matching.
	_, err = fsys.Stat("/A/B/C.TXT")
	require.NoError(t, err)

	// A file mid-path is NotDir; a missing component is NotFound.
	_, err = fsys.Stat("/a/b/c.txt/d")
	require.ErrorIs(t, err, ErrNotDir)
	_, err = fsys.Stat("/a/missing/c.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

// Dot-dot out of a first-level directory returns to the root through the
// resolver's parent stack; the on-disk dot-dot entry, whose cluster field is
// zero, is never read.
func TestResolveDotDotEntries(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT16())
	require.NoError(t, fsys.Mkdir("/a"))
	writeFile(t, fsys, "/root.txt", []byte("r"))

	fi, err := fsys.Stat("/a/../root.txt")
	require.NoError(t, err)
	require.Equal(t, "root.txt", fi.Name())

	// Climbing out of /a and back in resolves to /a again.
	fi, err = fsys.Stat("/a/../a")
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestChdirGetcwd(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT16())
	require.NoError(t, fsys.Mkdir("/a"))
	require.NoError(t, fsys.Mkdir("/a/b"))
	writeFile(t, fsys, "/a/b/f.txt", []byte("x"))

	require.Equal(t, "/", fsys.Getcwd())
	require.NoError(t, fsys.Chdir("/a"))
	require.Equal(t, "/a", fsys.Getcwd())
	require.NoError(t, fsys.Chdir("b"))
	require.Equal(t, "/a/b", fsys.Getcwd())

	// Relative resolution starts at the cwd.
	fi, err := fsys.Stat("f.txt")
	require.NoError(t, err)
	require.Equal(t, "f.txt", fi.Name())

	require.NoError(t, fsys.Chdir("/"))
	require.Equal(t, "/", fsys.Getcwd())
	_, err = fsys.Stat("f.txt")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, fsys.Chdir("/a/b/f.txt"), ErrNotDir)
	require.ErrorIs(t, fsys.Chdir("/nope"), ErrNotFound)
}

func TestSplitPath(t *testing.T) {
	cases := []struct{ in, parent, base string }{
		{"/a.txt", "/", "a.txt"},
		{"a.txt", "", "a.txt"},
		{"/a/b/c", "/a/b", "c"},
		{"a/b", "a", "b"},
		{"/a/", "/", "a"},
		{"/", "/", ""},
	}
	for _, tc := range cases {
		parent, base := splitPath(tc.in)
		require.Equal(t, tc.parent, parent, "path %q", tc.in)
		require.Equal(t, tc.base, base, "path %q", tc.in)
	}
}

func TestJoinCwd(t *testing.T) {
	require.Equal(t, "/a/b", joinCwd("/a", "b"))
	require.Equal(t, "/b", joinCwd("/a", "/b"))
	require.Equal(t, "/", joinCwd("/a", ".."))
	require.Equal(t, "/a/c", joinCwd("/a/b", "../c"))
	require.Equal(t, "/a", joinCwd("/a", "."))
}
