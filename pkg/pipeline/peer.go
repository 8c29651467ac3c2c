package pipeline

// Peer is a data source/destination with an associated connector (ie Kafka, TxEventQ).
type Peer struct {
	Name          string `mapstructure:"name"`
	ConnectorName string `mapstructure:"connector"`
	// Config contains the connection config of the connector, passed to
	// Connect as JSON.
	Config map[string]any `mapstructure:"config"`
	// Extra arguments for Connect
	Args []any `mapstructure:"-"`
}

func (p *Peer) Connector() Connector {
	mu.RLock()
	defer mu.RUnlock()
	return connectors[p.ConnectorName]
}
