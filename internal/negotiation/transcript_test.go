package negotiation

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptChain(t *testing.T) {
	var tr Transcript
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p1 := dec("12.00")
	p2 := dec("24.25")
	tr.Append(PartyBuyer, ActionOffer, &p1, ts)
	tr.Append(PartySeller, ActionCounter, &p2, ts.Add(time.Second))
	tr.Append(PartySystem, ActionExpired, nil, ts.Add(2*time.Second))

	require.Equal(t, 3, tr.Len())
	assert.True(t, tr.Verify())

	// Recompute the chain by hand from the entry tuples.
	prev := "0"
	for _, e := range tr.Entries() {
		priceStr := ""
		if e.Price != nil {
			priceStr = e.Price.String()
		}
		payload := prev + ":" + string(e.Party) + ":" + string(e.Action) + ":" + priceStr + ":" + e.Timestamp.UTC().Format(time.RFC3339Nano)
		sum := sha256.Sum256([]byte(payload))
		want := hex.EncodeToString(sum[:])[:16]
		assert.Equal(t, want, e.Hash)
		prev = e.Hash
	}
}

func TestTranscriptTamperDetection(t *testing.T) {
	var tr Transcript
	ts := time.Now()
	p := dec("5")
	tr.Append(PartyBuyer, ActionOffer, &p, ts)
	tr.Append(PartySeller, ActionAccept, &p, ts)

	require.True(t, tr.Verify())

	// Redacting the price of an earlier entry breaks the chain.
	mutated := dec("50")
	tr.entries[0].Price = &mutated
	assert.False(t, tr.Verify())
}

func TestTranscriptHashLinksPrevious(t *testing.T) {
	var a, b Transcript
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := dec("7")

	a.Append(PartyBuyer, ActionOffer, &p, ts)
	a.Append(PartyBuyer, ActionOffer, &p, ts)

	b.Append(PartyBuyer, ActionOffer, &p, ts)

	// Same tuple, different predecessor, different hash.
	assert.NotEqual(t, a.entries[1].Hash, b.entries[0].Hash)
	assert.Equal(t, a.entries[0].Hash, b.entries[0].Hash)
}
