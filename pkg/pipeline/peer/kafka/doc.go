// Package kafka is the Kafka peer of a pipeline, built on IBM/sarama.
//
// As a source it joins a consumer group (groupID, default "teq") on the
// configured topics and emits every message as a record carrying its
// partition, offset, key, value, headers and timestamp. Group offsets are
// never committed: when a sink in the same pipeline tracks offsets (the
// TxEventQ sink does), each assigned partition resumes from that sink's
// position.
//
// As a sink it produces records with a SyncProducer to the record's topic,
// or to the configured default topic.
//
// SASL supports PLAIN and SCRAM-SHA-256/512 (via xdg-go/scram); TLS takes
// optional client certificate and CA files.
package kafka
