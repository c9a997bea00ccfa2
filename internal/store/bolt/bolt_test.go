package bolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/idem/internal/store"
	"github.com/roach88/idem/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) store.Backend {
			b, err := Open(filepath.Join(t.TempDir(), "idem.bolt"), time.Second)
			require.NoError(t, err)
			return b
		},
		Reopen: func(t *testing.T, b store.Backend) store.Backend {
			path := b.(*Backend).db.Path()
			require.NoError(t, b.Close())
			reopened, err := Open(path, time.Second)
			require.NoError(t, err)
			return reopened
		},
	})
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "idem.bolt")

	b, err := Open(path, time.Second)
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_LockedFileTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.bolt")

	first, err := Open(path, time.Second)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestLoad_CorruptValueFails(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "idem.bolt"), time.Second)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Put([]byte("k"), []byte("{"))
	}))

	_, _, err = b.Load(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode record")
}
