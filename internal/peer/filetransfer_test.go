package peer_test

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberlink/internal/domain"
	"emberlink/internal/peer"
)

func writeTempFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	_, err := rand.Read(content)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path, content
}

func fileOffer(ev domain.Event) bool { return ev.Kind == domain.EventFileOffer }

func fileEventContaining(sub string) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		return ev.Kind == domain.EventFile && strings.Contains(ev.Text, sub)
	}
}

func TestFileTransferRoundTrip(t *testing.T) {
	const fileSize = 100_000
	for _, chunk := range []int{1000, fileSize, fileSize * 2} {
		t.Run(fmt.Sprintf("chunk_%d", chunk), func(t *testing.T) {
			alice := newTestPeer(t, peer.Config{ChunkSize: chunk})
			bob := newTestPeer(t, peer.Config{})
			connectPair(t, alice, bob)

			path, content := writeTempFile(t, "payload.bin", fileSize)
			require.NoError(t, alice.mgr.SendFile(path, nil))

			offer := bob.log.waitFor(t, 3*time.Second, "file offer", fileOffer)
			assert.Equal(t, "payload.bin", offer.FileName)
			assert.Equal(t, int64(fileSize), offer.FileSize)

			var progressMu sync.Mutex
			var fractions []float64
			require.NoError(t, bob.mgr.AcceptFile(func(f float64) {
				progressMu.Lock()
				fractions = append(fractions, f)
				progressMu.Unlock()
			}))

			bob.log.waitFor(t, 10*time.Second, "download complete", fileEventContaining("Received"))
			alice.log.waitFor(t, 10*time.Second, "upload complete", fileEventContaining("Sent"))

			got, err := os.ReadFile(filepath.Join(bob.downloads, "payload.bin"))
			require.NoError(t, err)
			assert.Equal(t, content, got)

			progressMu.Lock()
			defer progressMu.Unlock()
			require.NotEmpty(t, fractions)
			assert.Equal(t, float64(1), fractions[len(fractions)-1])
			for i := 1; i < len(fractions); i++ {
				assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
			}
		})
	}
}

func TestZeroByteFileTransfer(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	path, _ := writeTempFile(t, "empty.bin", 0)
	require.NoError(t, alice.mgr.SendFile(path, nil))
	bob.log.waitFor(t, 3*time.Second, "file offer", fileOffer)

	done := false
	require.NoError(t, bob.mgr.AcceptFile(func(f float64) { done = f == 1 }))
	assert.True(t, done)

	got, err := os.ReadFile(filepath.Join(bob.downloads, "empty.bin"))
	require.NoError(t, err)
	assert.Empty(t, got)

	alice.log.waitFor(t, 3*time.Second, "sender sees completion", fileEventContaining("Sent"))
}

func TestDeclineLeavesNoFile(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	path, _ := writeTempFile(t, "unwanted.bin", 4096)
	require.NoError(t, alice.mgr.SendFile(path, nil))
	bob.log.waitFor(t, 3*time.Second, "file offer", fileOffer)

	require.NoError(t, bob.mgr.DeclineFile())
	alice.log.waitFor(t, 3*time.Second, "sender sees the decline", fileEventContaining("declined"))

	_, err := os.Stat(filepath.Join(bob.downloads, "unwanted.bin"))
	assert.True(t, os.IsNotExist(err))

	// Both directions are free again after a decline.
	path2, content2 := writeTempFile(t, "wanted.bin", 4096)
	require.NoError(t, alice.mgr.SendFile(path2, nil))
	bob.log.waitFor(t, 3*time.Second, "second offer", func(ev domain.Event) bool {
		return ev.Kind == domain.EventFileOffer && ev.FileName == "wanted.bin"
	})
	require.NoError(t, bob.mgr.AcceptFile(nil))
	bob.log.waitFor(t, 10*time.Second, "second download completes", fileEventContaining("Received"))

	got, err := os.ReadFile(filepath.Join(bob.downloads, "wanted.bin"))
	require.NoError(t, err)
	assert.Equal(t, content2, got)
}

func TestOnlyOneTransferAtATime(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	path, _ := writeTempFile(t, "first.bin", 4096)
	require.NoError(t, alice.mgr.SendFile(path, nil))

	path2, _ := writeTempFile(t, "second.bin", 4096)
	assert.ErrorIs(t, alice.mgr.SendFile(path2, nil), domain.ErrTransferPending)
}

func TestSendFileRejectsBadInput(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})

	path, _ := writeTempFile(t, "lonely.bin", 16)
	assert.ErrorIs(t, alice.mgr.SendFile(path, nil), domain.ErrNotConnected)

	connectPair(t, alice, bob)
	assert.Error(t, alice.mgr.SendFile(filepath.Join(t.TempDir(), "missing.bin"), nil))
	assert.Error(t, alice.mgr.SendFile(t.TempDir(), nil))
	assert.Error(t, bob.mgr.AcceptFile(nil))
	assert.Error(t, bob.mgr.DeclineFile())
}
