package xa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
)

func testXid(n byte) domain.Xid {
	return domain.Xid{
		FormatID:        4660,
		GlobalTxnID:     []byte{0x01, 0x02, n},
		BranchQualifier: []byte{0x0a, n},
	}
}

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prepared.log")
	store, err := NewFileStore(FileStoreOptions{Path: path, Fsync: true, Checksum: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestFileStore_PutListClear(t *testing.T) {
	store, _ := newTestFileStore(t)

	x1 := testXid(1)
	x2 := testXid(2)

	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x1, TimestampNanos: 111}))
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x2, TimestampNanos: 222, Metadata: []byte("meta")}))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, x1.Key(), records[0].Xid.Key())
	assert.Equal(t, int64(111), records[0].TimestampNanos)
	assert.Equal(t, x2.Key(), records[1].Xid.Key())
	assert.Equal(t, []byte("meta"), records[1].Metadata)

	require.NoError(t, store.Clear(x1))
	records, err = store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, x2.Key(), records[0].Xid.Key())
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	store, path := newTestFileStore(t)

	x := testXid(7)
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x, TimestampNanos: 42}))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(FileStoreOptions{Path: path, Fsync: true, Checksum: true})
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Xid.Equal(x))
}

func TestFileStore_DeduplicatesByXid(t *testing.T) {
	store, _ := newTestFileStore(t)

	x := testXid(3)
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x, TimestampNanos: 1}))
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x, TimestampNanos: 2}))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].TimestampNanos, "latest entry wins")
}

func TestFileStore_ToleratesTornTail(t *testing.T) {
	store, path := newTestFileStore(t)

	x := testXid(4)
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x, TimestampNanos: 9}))
	require.NoError(t, store.Close())

	// Simulate a crash mid-append: garbage after the last full record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x4f, 0x4a, 0x50})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileStore(FileStoreOptions{Path: path, Fsync: false, Checksum: true})
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Xid.Equal(x))
}

func TestMemoryStore_Roundtrip(t *testing.T) {
	store := NewMemoryStore()

	x := testXid(5)
	require.NoError(t, store.Put(ports.PreparedRecord{Xid: x, TimestampNanos: 5}))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, store.Clear(x))
	records, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}
