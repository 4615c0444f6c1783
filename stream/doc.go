// Package stream implements the per-session live event broker. Workflow
// nodes and the protocol client publish ThoughtEvents; one consumer per
// session subscribes and receives a finite, strictly ordered sequence:
// any events cached before attach, a synthetic connected marker, live events
// as they arrive, synthetic pings during idle stretches, and a terminal
// complete sentinel after which the channel is closed and the session's
// broker state is discarded.
//
// Publishing never blocks. A consumer disconnect never cancels the producing
// turn; its remaining events are dropped when the queue is discarded.
package stream
