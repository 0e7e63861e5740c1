package dynconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	c := New()
	snap := c.Get()
	require.Equal(t, 180*time.Second, snap.NodeOfflineTimeout)
	require.Equal(t, 30*time.Minute, snap.ClientAutoRemoveTimeout)
	require.False(t, snap.QuotaEnable)
	require.Equal(t, 30*time.Second, snap.QuotaUpdateInterval)
	require.True(t, snap.RegistrationEnable)
}

func TestIngestRejectsUnknownKey(t *testing.T) {
	c := New()
	err := c.Ingest("NotARealKey", `true`)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestIngestUpdatesSnapshotAtomically(t *testing.T) {
	c := New()
	require.NoError(t, c.Ingest(KeyQuotaEnable, `true`))
	require.True(t, c.Get().QuotaEnable)

	require.NoError(t, c.Ingest(KeyNodeOfflineTimeout, `60`))
	require.Equal(t, 60*time.Second, c.Get().NodeOfflineTimeout)
	// Earlier ingested field must still be set; Ingest must not clobber
	// unrelated fields when rebuilding from the current snapshot.
	require.True(t, c.Get().QuotaEnable)
}

func TestSeedOverlaysDefaults(t *testing.T) {
	c := New()
	err := c.Seed(map[string]string{
		KeyRegistrationEnable: `false`,
	})
	require.NoError(t, err)
	require.False(t, c.Get().RegistrationEnable)
	require.Equal(t, 180*time.Second, c.Get().NodeOfflineTimeout)
}
