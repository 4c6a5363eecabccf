package negotiation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Party identifies who produced a transcript entry.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
	PartySystem Party = "system"
)

// Action is the event type recorded in the transcript.
type Action string

const (
	ActionOffer   Action = "offer"
	ActionCounter Action = "counter"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionExpired Action = "expired"
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "0"

// Entry is an immutable record of a negotiation event. Hash covers the
// previous entry's hash, so reordering or redacting earlier entries
// invalidates every later hash.
type Entry struct {
	Party     Party
	Action    Action
	Price     *decimal.Decimal
	Timestamp time.Time
	Hash      string
}

// Transcript is the append-only, hash-chained log of a single negotiation.
type Transcript struct {
	entries []Entry
}

// Append records an event and links it into the hash chain.
func (t *Transcript) Append(party Party, action Action, price *decimal.Decimal, ts time.Time) Entry {
	prev := genesisHash
	if n := len(t.entries); n > 0 {
		prev = t.entries[n-1].Hash
	}
	e := Entry{
		Party:     party,
		Action:    action,
		Price:     price,
		Timestamp: ts,
		Hash:      chainHash(prev, party, action, price, ts),
	}
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a copy of the recorded entries.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int { return len(t.entries) }

// Last returns the most recent entry, or false if the transcript is empty.
func (t *Transcript) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Verify recomputes the chain from the entry tuples and reports whether every
// recorded hash matches.
func (t *Transcript) Verify() bool {
	prev := genesisHash
	for _, e := range t.entries {
		if chainHash(prev, e.Party, e.Action, e.Price, e.Timestamp) != e.Hash {
			return false
		}
		prev = e.Hash
	}
	return true
}

// chainHash is the first 16 hex characters of
// SHA-256(prev:party:action:price:timestamp). A nil price contributes the
// empty string; timestamps are RFC 3339 with nanoseconds in UTC.
func chainHash(prev string, party Party, action Action, price *decimal.Decimal, ts time.Time) string {
	priceStr := ""
	if price != nil {
		priceStr = price.String()
	}
	payload := prev + ":" + string(party) + ":" + string(action) + ":" + priceStr + ":" + ts.UTC().Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
