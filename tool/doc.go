// Package tool implements the capability execution subsystem: a registry
// mapping capability names to tool-server endpoints, declared-type coercion
// of invocation parameters, and the tool-RPC client performing the remote
// call.
//
// Failure semantics follow the degrade-don't-abort rule: an unreachable
// endpoint produces a skipped result (the turn continues with a reduced
// capability set), while a tool-level execution error is delivered back to
// the model as a failed function result so it can adapt its plan.
package tool
