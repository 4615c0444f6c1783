// Package core defines the shared data model of the ConvFlow orchestration
// engine: conversation messages and their content parts, the per-turn
// workflow state threaded through graph nodes, tool invocations and results,
// thought events streamed to observers, and the TurnResult sum type used by
// the continuation protocol.
//
// Types in this package are deliberately free of behavior beyond small
// constructors and accessors so that every other package can depend on them
// without import cycles.
package core
