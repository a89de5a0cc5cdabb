// Package testing holds helpers shared by the driver's test suites.
package testing

import (
	"crypto/rand"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/vdi"
)

// CreateImage creates a fresh image file under t.TempDir() and returns its
// path. It is guaranteed to either return a valid image or fail the test.
func CreateImage(t *testing.T, size uint64, static bool) string {
	path := filepath.Join(t.TempDir(), "image.vdi")
	err := vdi.Create(path, vdi.CreateOptions{Size: size, Static: static})
	require.NoErrorf(
		t, err, "failed to create %d-byte image (static=%v)", size, static)
	return path
}

// OpenImage creates a fresh image and opens it read-write. The handle is
// closed automatically when the test finishes.
func OpenImage(t *testing.T, size uint64, static bool) *vdi.Driver {
	driver, err := vdi.Open(CreateImage(t, size, static), vdi.OpenOptions{})
	require.NoError(t, err, "failed to open freshly created image")

	t.Cleanup(func() {
		driver.Close()
	})
	return driver
}

// PatternSectors returns count sectors of random bytes. Random data can't
// be mistaken for the zero fill of unallocated blocks.
func PatternSectors(t *testing.T, count int) []byte {
	buf := make([]byte, count*vdi.SectorSize)
	_, err := rand.Read(buf)
	require.NoErrorf(t, err, "failed to fill %d sectors with random bytes", count)
	return buf
}

// NewBufferStream wraps a byte slice in a fixed-size in-memory stream, for
// exercising code paths that take a seekable stream rather than a file.
func NewBufferStream(storage []byte) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(storage)
}
