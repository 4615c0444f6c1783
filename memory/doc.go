// Package memory implements the bounded session memory store: the ordered
// per-session conversation history every other component reads from and
// writes to.
//
// Retention follows a sliding window over non-system messages: system
// messages are never evicted, the most recent W non-system messages are
// kept, and the stored list is reassembled as system messages (original
// relative order) followed by the retained non-system tail.
//
// The in-memory implementation shards sessions across independently locked
// sub-stores keyed by a hash of the session id, so unrelated sessions never
// serialize on one lock.
package memory
