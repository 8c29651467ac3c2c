// Package pipeline moves Kafka records between `Peer`s (ie data
// source/destination) with optional transformations on the way.
//
// Built-in peer types are Kafka, Oracle TxEventQ and a debug sink, with
// extensibility through Go plugins.
//
// It defines a `Connector` interface that all `Peer` types must implement.
// A source implementing `Resumable` is handed the `OffsetResolver` of a sink
// in the same pipeline, so consumption restarts where the sink left off.
package pipeline
