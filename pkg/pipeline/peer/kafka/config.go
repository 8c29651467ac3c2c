package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Config represents Kafka-specific configuration
type Config struct {
	Brokers []string `json:"brokers"`
	// Topics are consumed when the peer is a pipeline source.
	Topics  []string `json:"topics,omitempty"`
	GroupID string   `json:"groupID,omitempty"`
	// Topic is where records without a topic of their own are produced.
	Topic       string `json:"topic,omitempty"`
	CreateTopic bool   `json:"createTopic,omitempty"`
	Version     string `json:"version,omitempty"`
	SASL        *SASL  `json:"sasl,omitempty"`
	Partitions  int32  `json:"partitions,omitempty"`
	Replicas    int16  `json:"replicas,omitempty"`
	RetentionMS int64  `json:"retentionMs,omitempty"`
	TLS         TLS    `json:"tls"`
}

// SASL represents SASL authentication configuration
type SASL struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Algorithm string `json:"algorithm"` // plain, sha256 or sha512
	Enable    bool   `json:"enable"`
}

// TLS represents TLS configuration
type TLS struct {
	CertFile   string `json:"certFile"`
	KeyFile    string `json:"keyFile"`
	CAFile     string `json:"caFile"`
	Enable     bool   `json:"enable"`
	SkipVerify bool   `json:"skipVerify"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Version == "" {
		c.Version = "2.1.1"
	}
	if c.GroupID == "" {
		c.GroupID = "teq"
	}
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.RetentionMS == 0 {
		c.RetentionMS = 7 * 24 * 60 * 60 * 1000 // 7 days
	}
}

// ToSaramaConfig converts the Config to a sarama.Config
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("error parsing Kafka version: %w", err)
	}
	conf.Version = version

	if c.SASL != nil && c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "", "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	if c.TLS.Enable {
		tlsConf, err := createTLSConfiguration(c.TLS)
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConf
	}

	conf.Producer.Retry.Max = 5
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true

	// Positions come from the offset tracker, never from the group.
	conf.Consumer.Return.Errors = true
	conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	conf.Consumer.Offsets.AutoCommit.Enable = false

	conf.ClientID = "teq-" + uuid.NewString()[:8]
	conf.Metadata.Full = true

	return conf, nil
}

func createTLSConfiguration(tlsCfg TLS) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: tlsCfg.SkipVerify,
	}

	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}

	if tlsCfg.CAFile != "" {
		caCert, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("no certificates in CA file")
		}
		t.RootCAs = caCertPool
	}

	return t, nil
}

// GetBrokers returns the list of Kafka brokers
func (c *Config) GetBrokers() []string {
	return c.Brokers
}
