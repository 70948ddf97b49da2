package kafka

import (
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// Config holds the connection settings shared by Scheduler and Receiver.
type Config struct {
	Brokers       []string      `env:"KAFKA_BROKERS,required" envSeparator:","`
	Topic         string        `env:"KAFKA_TOPIC,required"`
	GroupID       string        `env:"KAFKA_GROUP_ID"`
	WriteTimeout  time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"3s"`
	CommitTimeout time.Duration `env:"KAFKA_COMMIT_TIMEOUT" envDefault:"3s"`
	// Redeliver re-produces retried and paused deliveries. Without it they
	// stay uncommitted and no later offset of their partition is committed,
	// so the group fetches them again after a restart or rebalance.
	Redeliver bool `env:"KAFKA_REDELIVER" envDefault:"false"`
}

// DefaultConfig returns the timeouts used when nothing is set.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:  DefaultWriteTimeout,
		CommitTimeout: DefaultCommitTimeout,
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Topic == "" {
		return ErrEmptyTopic
	}
	return nil
}

// NewWriter creates a writer for cfg.Topic.
func NewWriter(cfg Config) (*kgo.Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &kgo.Writer{
		Addr:         kgo.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireAll,
	}, nil
}

// NewReader creates a consumer group reader for cfg.Topic that commits only
// when told to.
func NewReader(cfg Config) (*kgo.Reader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.GroupID == "" {
		return nil, ErrEmptyGroupID
	}
	return kgo.NewReader(kgo.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	}), nil
}
