// Package engine coordinates reads and writes across the local store, the
// remote client, and the connectivity oracle.
//
// The Reader serves reads cache-or-network depending on the oracle and
// refreshes the local store from authoritative network results. The Outbox
// accepts writes locally, applies them optimistically, and replays them to
// the remote service under backoff until acknowledged.
package engine
