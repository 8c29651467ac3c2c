package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/txeventq/pkg/pipeline"
	"github.com/edgeflare/txeventq/pkg/pipeline/peer/kafka"
	txeventqpeer "github.com/edgeflare/txeventq/pkg/pipeline/peer/txeventq"
	"github.com/edgeflare/txeventq/pkg/txeventq/oracle"
	"github.com/edgeflare/txeventq/pkg/txeventq/task"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Names of the peers and pipeline built by PipelineConfig
const (
	DefaultSourcePeer = "kafka"
	DefaultSinkPeer   = "txeventq"
	DefaultPipeline   = "kafka-to-txeventq"
)

// Config holds application-wide configuration
type Config struct {
	Pipeline pipeline.Config            `mapstructure:"pipeline"`
	Kafka    kafka.Config               `mapstructure:"kafka"`
	TxEventQ TxEventQConfig             `mapstructure:"txeventq"`
	Database oracle.Config              `mapstructure:"database"`
	Offsets  txeventqpeer.OffsetsConfig `mapstructure:"offsets"`
	Metrics  MetricsConfig              `mapstructure:"metrics"`
}

type TxEventQConfig struct {
	task.Config   `mapstructure:",squash"`
	FlushInterval time.Duration `mapstructure:"flushInterval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// legacyKeys maps the property names of the Kafka Connect connector onto
// their place in Config. A legacy key is applied only when set.
var legacyKeys = [][2]string{
	{"txeventq.queue.name", "txeventq.queueName"},
	{"txeventq.queue.schema", "txeventq.queueSchema"},
	{"txeventq.jms.bytes.include.kafka.headers", "txeventq.includeHeaders"},
	{"txeventq.jms.bytes.include.kafka.metadata", "txeventq.includeMetadata"},
	{"errors.tolerance", "txeventq.errorsTolerance"},
	{"db_tns_alias", "database.tnsAlias"},
	{"wallet.path", "database.walletPath"},
	{"tnsnames.path", "database.tnsNamesPath"},
}

// legacyLists are legacy keys holding comma separated lists.
var legacyLists = [][2]string{
	{"topics", "kafka.topics"},
	{"bootstrap.servers", "kafka.brokers"},
}

// Load reads config from file or environment. Environment variables use the
// TEQ prefix with dots replaced by underscores, e.g. TEQ_DATABASE_TNSALIAS.
// logger may be nil.
func Load(cfgFile string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("teq")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("txeventq.flushInterval", time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		logger.Info("using config file", zap.String("path", v.ConfigFileUsed()))
	}

	applyLegacyKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Kafka.SetDefaults()

	return &cfg, nil
}

func applyLegacyKeys(v *viper.Viper) {
	for _, k := range legacyKeys {
		if v.IsSet(k[0]) {
			v.Set(k[1], v.Get(k[0]))
		}
	}
	for _, k := range legacyLists {
		if v.IsSet(k[0]) {
			v.Set(k[1], splitList(v.Get(k[0])))
		}
	}
}

func splitList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings the default pipeline needs. A config that
// declares its own pipeline peers is left to the connectors to check.
func (c *Config) Validate() error {
	if len(c.Pipeline.Peers) > 0 {
		return nil
	}
	var errs []error
	if c.TxEventQ.QueueName == "" {
		errs = append(errs, errors.New("txeventq.queueName is required"))
	}
	if c.TxEventQ.QueueSchema == "" {
		errs = append(errs, errors.New("txeventq.queueSchema is required"))
	}
	if len(c.Kafka.Topics) == 0 {
		errs = append(errs, errors.New("kafka.topics is required"))
	}
	if len(c.Kafka.Topics) > 1 {
		errs = append(errs, fmt.Errorf("kafka.topics: one topic per queue, got %d", len(c.Kafka.Topics)))
	}
	return errors.Join(errs...)
}

// PipelineConfig returns the configured pipelines, or when none are
// declared, a single pipeline from the Kafka topic to the queue.
func (c *Config) PipelineConfig() (*pipeline.Config, error) {
	if len(c.Pipeline.Peers) > 0 {
		return &c.Pipeline, nil
	}

	kafkaPeer, err := toMap(c.Kafka)
	if err != nil {
		return nil, fmt.Errorf("kafka peer config: %w", err)
	}

	tq := c.TxEventQ
	topic := tq.Topic
	if topic == "" && len(c.Kafka.Topics) > 0 {
		topic = c.Kafka.Topics[0]
	}
	sinkPeer := map[string]any{
		"topic":           topic,
		"queueName":       tq.QueueName,
		"queueSchema":     tq.QueueSchema,
		"includeHeaders":  tq.IncludeHeaders,
		"includeMetadata": tq.IncludeMetadata,
		"converter":       tq.Converter,
		"errorsTolerance": tq.ErrorsTolerance,
		"batchSize":       tq.BatchSize,
		"flushInterval":   tq.FlushInterval.String(),
		"database":        c.Database,
		"offsets":         c.Offsets,
		"kafka":           c.Kafka,
	}

	return &pipeline.Config{
		Peers: []pipeline.Peer{
			{Name: DefaultSourcePeer, ConnectorName: pipeline.ConnectorKafka, Config: kafkaPeer},
			{Name: DefaultSinkPeer, ConnectorName: pipeline.ConnectorTxEventQ, Config: sinkPeer},
		},
		Pipelines: []pipeline.Pipeline{{
			Name:    DefaultPipeline,
			Sources: []pipeline.Source{{Name: DefaultSourcePeer}},
			Sinks:   []pipeline.Sink{{Name: DefaultSinkPeer}},
		}},
	}, nil
}

// SinkPeerConfig decodes the config of the named TxEventQ peer, or of the
// default sink when name is empty.
func (c *Config) SinkPeerConfig(name string) (txeventqpeer.Config, error) {
	pc, err := c.PipelineConfig()
	if err != nil {
		return txeventqpeer.Config{}, err
	}
	if name == "" {
		name = DefaultSinkPeer
	}
	p := pc.GetPeer(name)
	if p == nil {
		return txeventqpeer.Config{}, fmt.Errorf("peer %s not found", name)
	}
	if p.ConnectorName != pipeline.ConnectorTxEventQ {
		return txeventqpeer.Config{}, fmt.Errorf("peer %s is a %s peer", name, p.ConnectorName)
	}
	raw, err := toMap(p.Config)
	if err != nil {
		return txeventqpeer.Config{}, err
	}
	return txeventqpeer.DecodeConfig(raw)
}

// toMap round-trips v through JSON, as peers receive their config.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
