package vfs

import (
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exampleArchive is a web application laid out across a source tree, a
// docs directory and a build output directory.
func exampleArchive(t *testing.T) (afero.Fs, *Archive) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys,
		"/src/main/README.txt",
		"/src/main/index.html",
		"/src/main/notes.bak",
		"/src/main/WEB-INF/web.xml",
		"/docs/readme.txt",
		"/docs/manifest",
		"/build/classes/com/acme/App.class",
	)
	a := newTestArchive(t, fsys, []RuleSpec{
		Directory("/", "/src/main", "**/*.bak"),
		File("/README.txt", "/docs/readme.txt"),
		File("/META-INF/MANIFEST.MF", "/docs/manifest"),
		Directory("/WEB-INF/classes", "/build/classes", ""),
	})
	return fsys, a
}

func TestNewRejectsBadRules(t *testing.T) {
	tests := []struct {
		name  string
		specs []RuleSpec
		err   error
	}{
		{"relative location", []RuleSpec{Directory("src", "/src", "")}, ErrInvalidPath},
		{"escaping location", []RuleSpec{File("/../x", "/x")}, ErrInvalidPath},
		{"missing disk", []RuleSpec{File("/x", "")}, ErrInvalidRule},
		{"missing archive", []RuleSpec{Nested("/x.jar", nil)}, ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs, WithFs(afero.NewMemMapFs()))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			var pe *PathError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestNewRejectsRemount(t *testing.T) {
	fsys := afero.NewMemMapFs()
	child := newTestArchive(t, fsys, []RuleSpec{Directory("/", "/child", "")})

	_, err := New([]RuleSpec{Nested("/a.jar", child), Nested("/b.jar", child)}, WithFs(fsys))
	assert.ErrorIs(t, err, ErrInvalidRule)

	newTestArchive(t, fsys, []RuleSpec{Nested("/a.jar", child)})
	_, err = New([]RuleSpec{Nested("/b.jar", child)}, WithFs(fsys))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestMalformedExcludeFailsOpen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/src/a.txt")
	a := newTestArchive(t, fsys, []RuleSpec{Directory("/", "/src", "(")})

	_, ok := a.Entry("/a.txt")
	assert.True(t, ok)
	assert.Equal(t, "(", a.Rules()[0].Excludes())
}

func TestResolvePrecedence(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/r1/x.txt", "/r2/x.txt", "/r2/only.txt")
	a := newTestArchive(t, fsys, []RuleSpec{
		Directory("/", "/r1", ""),
		Directory("/", "/r2", ""),
	})

	e, ok := a.Entry("/x.txt")
	require.True(t, ok)
	assert.Equal(t, 0, e.Rule().Index())

	e, ok = a.Entry("/only.txt")
	require.True(t, ok)
	assert.Equal(t, 1, e.Rule().Index())

	require.NoError(t, fsys.Remove("/r1/x.txt"))
	e, ok = a.Entry("/x.txt")
	require.True(t, ok)
	assert.Equal(t, 1, e.Rule().Index(), "lower rule surfaces once the winner's file is gone")
}

// A directory rule listed before a file rule wins the file rule's exact
// path whenever it can present that path itself.
func TestResolveDirectoryBeforeFileRule(t *testing.T) {
	fsys, a := exampleArchive(t)

	e, ok := a.Entry("/README.txt")
	require.True(t, ok)
	assert.Equal(t, KindDirectory, e.Rule().Kind())
	disk, _ := e.PhysicalPath()
	assert.Equal(t, "/src/main/README.txt", disk)

	require.NoError(t, fsys.Remove("/src/main/README.txt"))
	e, ok = a.Entry("/README.txt")
	require.True(t, ok)
	assert.Equal(t, KindFile, e.Rule().Kind())
	disk, _ = e.PhysicalPath()
	assert.Equal(t, "/docs/readme.txt", disk)
}

func TestResolveFileRuleFirst(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/src/main/README.txt", "/docs/readme.txt")
	a := newTestArchive(t, fsys, []RuleSpec{
		File("/README.txt", "/docs/readme.txt"),
		Directory("/", "/src/main", ""),
	})

	e, ok := a.Entry("/README.txt")
	require.True(t, ok)
	assert.Equal(t, KindFile, e.Rule().Kind())
}

func TestResolveExcluded(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys,
		"/src/notes.bak",
		"/src/keep.txt",
		"/src/tmp/a/b.txt",
	)
	a := newTestArchive(t, fsys, []RuleSpec{
		Directory("/", "/src", "**/*.bak"),
		Directory("/lib", "/other", "/tmp/"),
	})

	_, ok := a.Entry("/notes.bak")
	assert.False(t, ok)
	_, ok = a.Entry("/keep.txt")
	assert.True(t, ok)

	b := newTestArchive(t, fsys, []RuleSpec{Directory("/", "/src", "/tmp/")})
	for _, p := range []string{"/tmp", "/tmp/a", "/tmp/a/b.txt"} {
		_, ok := b.Entry(p)
		assert.False(t, ok, p)
	}
	assert.Equal(t, []string{"/keep.txt", "/notes.bak"}, entryPaths(b.Entries("/")))
}

func TestResolvePassThrough(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/docs/c.txt")
	a := newTestArchive(t, fsys, []RuleSpec{File("/a/b/c.txt", "/docs/c.txt")})

	for _, p := range []string{"/a", "/a/b", "/a/"} {
		e, ok := a.Entry(p)
		require.True(t, ok, p)
		assert.True(t, e.IsPassThrough(), p)
		assert.True(t, e.IsDir(), p)
		assert.Zero(t, e.Size())
	}

	e, ok := a.Entry("/a/b/c.txt")
	require.True(t, ok)
	assert.False(t, e.IsPassThrough())

	for _, p := range []string{"/", "", "a", "/../a", "/b"} {
		_, ok := a.Entry(p)
		assert.False(t, ok, p)
	}
}

func TestList(t *testing.T) {
	_, a := exampleArchive(t)

	root := a.Entries("/")
	assert.Equal(t, []string{"/README.txt", "/WEB-INF", "/index.html", "/META-INF"}, entryPaths(root))
	assert.Equal(t, 0, root[0].Rule().Index(), "README.txt keeps its first writer")
	assert.True(t, root[3].IsPassThrough())

	webinf := a.Entries("/WEB-INF")
	assert.Equal(t, []string{"/WEB-INF/web.xml", "/WEB-INF/classes"}, entryPaths(webinf))
	assert.Equal(t, 3, webinf[1].Rule().Index())

	assert.Equal(t, []string{"/META-INF/MANIFEST.MF"}, entryPaths(a.Entries("/META-INF")))
	assert.Equal(t, []string{"/WEB-INF/classes/com"}, entryPaths(a.Entries("/WEB-INF/classes")))
	assert.Empty(t, a.Entries("/missing"))
	assert.Empty(t, a.Entries("relative"))
}

func TestListUpgradesPlaceholder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/docs/c.txt", "/src/lib/x.txt")
	a := newTestArchive(t, fsys, []RuleSpec{
		File("/lib/deep/c.txt", "/docs/c.txt"),
		Directory("/", "/src", ""),
	})

	entries := a.Entries("/")
	require.Len(t, entries, 1)
	assert.Equal(t, "/lib", entries[0].Path())
	assert.False(t, entries[0].IsPassThrough())

	e, ok := a.Entry("/lib")
	require.True(t, ok)
	assert.Equal(t, entries[0].Rule(), e.Rule())
}

func TestListSkipsMissingRuleLocation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	a := newTestArchive(t, fsys, []RuleSpec{File("/gone.txt", "/docs/gone.txt")})
	assert.Empty(t, a.Entries("/"))
}

func TestPhysicalPathAndURLs(t *testing.T) {
	_, a := exampleArchive(t)

	disk, ok := a.PhysicalPath("/README.txt")
	require.True(t, ok)
	assert.Equal(t, "/src/main/README.txt", disk)

	assert.Equal(t, []string{
		"file:///src/main/README.txt",
		"file:///docs/readme.txt",
	}, a.URLs("/README.txt"))
	assert.Equal(t, []string{"file:///src/main/WEB-INF/"}, a.URLs("/WEB-INF"))
	assert.Empty(t, a.URLs("/notes.bak"))

	_, ok = a.PhysicalPath("/missing")
	assert.False(t, ok)
}

func TestEntryAccessors(t *testing.T) {
	fsys, a := exampleArchive(t)

	e, ok := a.Entry("/index.html")
	require.True(t, ok)
	assert.Equal(t, "index.html", e.Name())
	assert.Equal(t, a, e.Archive())
	assert.False(t, e.IsDir())
	assert.Equal(t, int64(len("/src/main/index.html")), e.Size())
	assert.False(t, e.ModTime().IsZero())

	rc, ok := e.Open()
	require.True(t, ok)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "/src/main/index.html", string(data))

	require.NoError(t, fsys.Remove("/src/main/index.html"))
	assert.Zero(t, e.Size())
	assert.True(t, e.ModTime().IsZero())
	_, ok = e.Open()
	assert.False(t, ok)

	dir, ok := a.Entry("/WEB-INF")
	require.True(t, ok)
	assert.True(t, dir.IsDir())
	_, ok = dir.Open()
	assert.False(t, ok)
}

func TestCaseMatches(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, "/src/Main/App.java")
	a := newTestArchive(t, fsys, []RuleSpec{Directory("/", "/src", "")}, WithCaseCheck(true))

	assert.True(t, a.caseMatches("/src", "/src/Main/App.java"))
	assert.True(t, a.caseMatches("/src", "/src"))
	assert.False(t, a.caseMatches("/src", "/src/main/App.java"))
	assert.False(t, a.caseMatches("/src", "/src/Main/app.java"))

	_, ok := a.Entry("/Main/App.java")
	assert.True(t, ok)
}

func nestedArchive(t *testing.T, opts ...Option) (afero.Fs, *Archive, *Archive) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys,
		"/src/main/index.html",
		"/src/main/WEB-INF/web.xml",
		"/lib/util/com/acme/Util.class",
	)
	child := newTestArchive(t, fsys, []RuleSpec{Directory("/", "/lib/util", "")})
	parent := newTestArchive(t, fsys, []RuleSpec{
		Directory("/", "/src/main", ""),
		Nested("/WEB-INF/lib/util.jar", child),
	}, opts...)
	return fsys, parent, child
}

func TestNestedArchive(t *testing.T) {
	_, parent, child := nestedArchive(t, WithCacheDir("/cache"))

	p, mount, ok := child.Parent()
	require.True(t, ok)
	assert.Equal(t, parent, p)
	assert.Equal(t, "/WEB-INF/lib/util.jar", mount)
	assert.Equal(t, "/cache/WEB-INF/lib/util.jar", child.CacheDir())

	_, _, ok = parent.Parent()
	assert.False(t, ok)

	lib, ok := parent.Entry("/WEB-INF/lib")
	require.True(t, ok)
	assert.True(t, lib.IsPassThrough())

	jar, ok := parent.Entry("/WEB-INF/lib/util.jar")
	require.True(t, ok)
	assert.Equal(t, KindArchive, jar.Rule().Kind())
	assert.Equal(t, child, jar.Rule().Archive())
	assert.True(t, jar.IsDir())
	_, ok = jar.PhysicalPath()
	assert.False(t, ok)
	assert.Equal(t, []string{"file:///lib/util/"}, jar.URLs())

	assert.Equal(t, []string{"/WEB-INF/web.xml", "/WEB-INF/lib"}, entryPaths(parent.Entries("/WEB-INF")))
}

func TestFind(t *testing.T) {
	_, parent, child := nestedArchive(t)

	e, ok := parent.Find("/WEB-INF/lib/util.jar/com/acme/Util.class")
	require.True(t, ok)
	assert.Equal(t, child, e.Archive())
	assert.Equal(t, "/com/acme/Util.class", e.Path())
	disk, _ := e.PhysicalPath()
	assert.Equal(t, "/lib/util/com/acme/Util.class", disk)

	jar, ok := parent.Find("/WEB-INF/lib/util.jar")
	require.True(t, ok)
	assert.Equal(t, parent, jar.Archive())

	e, ok = parent.Find("/WEB-INF/web.xml")
	require.True(t, ok)
	assert.Equal(t, parent, e.Archive())

	for _, p := range []string{"/", "relative", "/WEB-INF/lib/util.jar/missing"} {
		_, ok := parent.Find(p)
		assert.False(t, ok, p)
	}
}

func TestFSView(t *testing.T) {
	_, parent, _ := nestedArchive(t)
	fsys := parent.FS()

	data, err := fs.ReadFile(fsys, "WEB-INF/lib/util.jar/com/acme/Util.class")
	require.NoError(t, err)
	assert.Equal(t, "/lib/util/com/acme/Util.class", string(data))

	info, err := fs.Stat(fsys, "WEB-INF/lib/util.jar")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "util.jar", info.Name())

	info, err = fs.Stat(fsys, ".")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = fs.Stat(fsys, "missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fsys.Open("../escape")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	var walked []string
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		walked = append(walked, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		".",
		"WEB-INF",
		"WEB-INF/lib",
		"WEB-INF/lib/util.jar",
		"WEB-INF/lib/util.jar/com",
		"WEB-INF/lib/util.jar/com/acme",
		"WEB-INF/lib/util.jar/com/acme/Util.class",
		"WEB-INF/web.xml",
		"index.html",
	}, walked)

	sub, err := fs.Sub(fsys, "WEB-INF")
	require.NoError(t, err)
	names, err := fs.ReadDir(sub, ".")
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "lib", names[0].Name())
	assert.Equal(t, "web.xml", names[1].Name())
}

func TestDirFileReadDirPaging(t *testing.T) {
	_, a := exampleArchive(t)
	f, err := a.FS().Open(".")
	require.NoError(t, err)
	defer f.Close()

	rd, ok := f.(fs.ReadDirFile)
	require.True(t, ok)
	first, err := rd.ReadDir(3)
	require.NoError(t, err)
	assert.Len(t, first, 3)
	rest, err := rd.ReadDir(3)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	_, err = rd.ReadDir(3)
	assert.ErrorIs(t, err, io.EOF)
}

func TestContainer(t *testing.T) {
	fsys, parent, child := nestedArchive(t, WithCacheDir("/cache"))
	writeFiles(t, fsys, "/src/main/WEB-INF/lib/other.jar")

	jar, ok := parent.Entry("/WEB-INF/lib/util.jar")
	require.True(t, ok)
	c, ok := jar.Container(false)
	require.True(t, ok)
	assert.Equal(t, child.Root(), c)

	webinf, ok := parent.Entry("/WEB-INF")
	require.True(t, ok)
	c, ok = webinf.Container(true)
	require.True(t, ok)
	assert.Equal(t, "/WEB-INF", c.(*Dir).Path())

	other, ok := parent.Entry("/WEB-INF/lib/other.jar")
	require.True(t, ok)
	_, ok = other.Container(true)
	assert.False(t, ok, "a plain file is not a local container")
	_, ok = other.Container(false)
	assert.False(t, ok, "no factory configured")
}

func TestContainerFactory(t *testing.T) {
	factory := &fakeFactory{result: fstest.MapFS{"a.class": {Data: []byte("x")}}}
	fsys, parent, child := nestedArchive(t, WithCacheDir("/cache"), WithContainerFactory(factory))
	writeFiles(t, fsys, "/src/main/WEB-INF/lib/other.jar")

	other, ok := parent.Entry("/WEB-INF/lib/other.jar")
	require.True(t, ok)
	c, ok := other.Container(false)
	require.True(t, ok)
	assert.Equal(t, factory.result, c)
	assert.Equal(t, "/cache/WEB-INF/lib", factory.cacheDir)
	assert.Equal(t, "/WEB-INF/lib", factory.parent.Path())
	assert.Equal(t, "/src/main/WEB-INF/lib/other.jar", factory.disk)
	assert.Equal(t, other, factory.entry)

	_, ok = other.Container(true)
	assert.False(t, ok, "localOnly never asks the factory")

	factory.cacheDir = ""
	writeFiles(t, fsys, "/lib/util/nested.jar")
	nested, ok := child.Entry("/nested.jar")
	require.True(t, ok)
	_, ok = nested.Container(false)
	require.True(t, ok, "nested archives inherit the factory")
	assert.Equal(t, "/cache/WEB-INF/lib/util.jar", factory.cacheDir)
}
