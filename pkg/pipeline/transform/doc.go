// Package transform applies per-record transformations to Kafka records as
// they flow through a pipeline, in the manner of Kafka Connect's
// [Single Message Transformations (SMTs)](https://docs.confluent.io/platform/current/connect/transforms/overview.html).
package transform
