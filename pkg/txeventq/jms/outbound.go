package jms

// PropPartition routes an enqueued message to a queue shard. TxEventQ maps
// shard n to the even value 2n.
const PropPartition = "AQINTERNAL_PARTITION"

// BytesMessage is a JMS bytes message ready to be enqueued.
type BytesMessage struct {
	CorrelationID string
	Body          []byte
	Properties    map[string]PropertyValue
}

// SetProperty sets a property, allocating the map on first use.
func (m *BytesMessage) SetProperty(name string, v PropertyValue) {
	if m.Properties == nil {
		m.Properties = make(map[string]PropertyValue)
	}
	m.Properties[name] = v
}

// ShardProperty returns the AQINTERNAL_PARTITION value for a Kafka partition.
func ShardProperty(partition int32) PropertyValue {
	return Int(partition * 2)
}
