package peer

import (
	"testing"
	"time"

	"github.com/opd-ai/peercore/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNodeIDRoundTripsViaPeerID(t *testing.T) {
	original, err := nodeid.Random()
	require.NoError(t, err)

	p := FromNodeID(original, "10.0.0.1", 4242)
	recovered, err := p.NodeID()
	require.NoError(t, err)
	assert.True(t, original.Equal(recovered))
}

func TestExpiredAtTTLBoundary(t *testing.T) {
	now := time.Now()
	c := &CachedPeer{CachedAt: now.Add(-time.Hour), TTL: time.Hour}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Second)))
}

func TestScoreHigherForFreshHighAccessHighReputation(t *testing.T) {
	now := time.Now()

	fresh := &CachedPeer{
		Reputation:   0.9,
		AccessCount:  100,
		LastAccessed: now,
		CachedAt:     now,
		TTL:          24 * time.Hour,
	}
	stale := &CachedPeer{
		Reputation:   0.1,
		AccessCount:  1,
		LastAccessed: now.Add(-48 * time.Hour),
		CachedAt:     now.Add(-48 * time.Hour),
		TTL:          24 * time.Hour,
	}

	assert.Greater(t, fresh.Score(now), stale.Score(now))
}

func TestScoreExactFormula(t *testing.T) {
	now := time.Now()
	c := &CachedPeer{
		Reputation:   0.5,
		AccessCount:  50,
		LastAccessed: now.Add(-12 * time.Hour),
		CachedAt:     now.Add(-12 * time.Hour),
		TTL:          24 * time.Hour,
	}

	want := 0.30*0.5 + 0.25*0.5 + 0.25*(1-0.5) + 0.20*(1-0.5)
	assert.InDelta(t, want, c.Score(now), 1e-9)
}

func TestClampReputation(t *testing.T) {
	assert.Equal(t, 0.0, ClampReputation(-0.5))
	assert.Equal(t, 1.0, ClampReputation(1.5))
	assert.Equal(t, 0.42, ClampReputation(0.42))
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "LOW", PriorityLow.String())
}
