// Package snapshot defines the opaque JSON-like value that flows between
// upstream, the cache, the capped stream, and clients. The core treats a
// Snapshot as a self-describing bag of fields; it reads only the well-known
// ones listed in WellKnownFields and leaves everything else untouched.
package snapshot

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDeserializeFailed reports that a stored or received payload did not
// parse as a JSON object. Treated by callers as a cache miss rather than a
// fatal error (spec.md §7): a corrupt L2 entry should self-heal on the next
// successful fetch, not wedge the dispatcher.
var ErrDeserializeFailed = errors.New("snapshot: deserialize failed")

// Snapshot is a heterogeneous key-value bag. The core never interprets its
// contents beyond the well-known fields it injects (Timestamp, Source) and
// the well-known fields it reads for observability (see WellKnownFields).
type Snapshot map[string]any

// WellKnownFields lists the keys the core round-trips by name. Everything
// else in a Snapshot passes through unexamined. Order here matches the
// field list a market-data well-known payload carries.
var WellKnownFields = []string{
	"btc_price_usd",
	"eth_price_usd",
	"btc_change_24h",
	"eth_change_24h",
	"btc_market_cap",
	"eth_market_cap",
	"btc_dominance",
	"fng_value",
	"fng_classification",
	"rsi_14",
	"macd_signal",
	"sp500_index",
	"nasdaq_index",
	"dxy_index",
	"timestamp",
	"source",
}

// Sentinel values substituted when an upstream payload omits a well-known
// numeric field, so downstream consumers never have to special-case a
// missing key versus an explicitly neutral reading.
const (
	// SentinelFearGreedIndex is the neutral midpoint of the 0-100 Fear &
	// Greed Index scale, used when fng_value is absent from upstream.
	SentinelFearGreedIndex = 50
	// SentinelRSI is the neutral midpoint of the 0-100 RSI scale, used
	// when rsi_14 is absent from upstream.
	SentinelRSI = 50
)

// Marshal serializes s to its self-describing textual form.
func Marshal(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal parses raw into a Snapshot. Any failure is wrapped in
// ErrDeserializeFailed so callers can match it with errors.Is regardless of
// the underlying json error.
func Unmarshal(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Join(ErrDeserializeFailed, err)
	}
	return s, nil
}

// Normalize fills in the well-known fields a raw upstream payload may omit:
// numeric sentinels for fng_value/rsi_14, and the injected provenance
// fields timestamp/source. Any WellKnownFields entry still absent after
// substitution is set to explicit JSON null, never silently dropped, so a
// client can distinguish "field exists, value unknown" from "field was
// never part of the schema".
func Normalize(raw Snapshot, source string, now time.Time) Snapshot {
	out := make(Snapshot, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}

	if _, ok := out["fng_value"]; !ok {
		out["fng_value"] = SentinelFearGreedIndex
	}
	if _, ok := out["rsi_14"]; !ok {
		out["rsi_14"] = SentinelRSI
	}

	out["timestamp"] = now.UTC().Format(time.RFC3339)
	out["source"] = source

	for _, field := range WellKnownFields {
		if _, ok := out[field]; !ok {
			out[field] = nil
		}
	}
	return out
}

// Clone returns a shallow copy of s. Used before handing a Snapshot to a
// concurrent reader (each ClientHub broadcast subscriber) so later in-place
// edits by one holder never race another's.
func Clone(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
