package fileservice

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDirectories(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "runfolder_a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(base, "runfolder_b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "not_a_dir.txt"), []byte("x"), 0o600))

	svc := New()
	dirs, err := svc.ListDirectories(base)
	require.NoError(t, err)

	require.Len(t, dirs, 2)
	for _, dir := range dirs {
		assert.True(t, filepath.IsAbs(dir))
	}
	assert.Equal(t, "runfolder_a", filepath.Base(dirs[0]))
	assert.Equal(t, "runfolder_b", filepath.Base(dirs[1]))
}

func TestListDirectoriesMissingBase(t *testing.T) {
	svc := New()
	_, err := svc.ListDirectories(filepath.Join(t.TempDir(), "does_not_exist"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIsFileAndIsDir(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "checksums.md5")
	require.NoError(t, os.WriteFile(file, []byte("d41d8cd9  reads.fastq\n"), 0o600))

	svc := New()
	assert.True(t, svc.IsFile(file))
	assert.False(t, svc.IsFile(base))
	assert.True(t, svc.IsDir(base))
	assert.False(t, svc.IsDir(file))
	assert.False(t, svc.IsFile(filepath.Join(base, "missing")))
	assert.False(t, svc.IsDir(filepath.Join(base, "missing")))
}

func TestSymlinkExistingPassesThrough(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "target")
	require.NoError(t, os.Mkdir(target, 0o755))
	link := filepath.Join(base, "link")

	svc := New()
	require.NoError(t, svc.Symlink(target, link))

	err := svc.Symlink(target, link)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrExist))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestMkdirAllAndMkdir(t *testing.T) {
	base := t.TempDir()
	svc := New()

	nested := filepath.Join(base, "links", "ABC_123", "1")
	require.NoError(t, svc.MkdirAll(nested))
	assert.True(t, svc.IsDir(nested))
	assert.NoError(t, svc.MkdirAll(nested))

	single := filepath.Join(base, "single")
	require.NoError(t, svc.Mkdir(single))
	err := svc.Mkdir(single)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrExist))
}

func TestDirectorySize(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "a.fastq"), make([]byte, 1024), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "sub", "b.fastq"), make([]byte, 512), 0o600))

	svc := New()
	size, err := svc.DirectorySize(base)
	require.NoError(t, err)
	assert.Equal(t, int64(1536), size)
}

func TestBasenameAndAbspath(t *testing.T) {
	svc := New()
	assert.Equal(t, "160930_ST-E00216_0111_BH37CWALXX", svc.Basename("/data/runfolders/160930_ST-E00216_0111_BH37CWALXX"))

	abs, err := svc.Abspath(".")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
}
