package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	kafkacompress "github.com/segmentio/kafka-go/compress"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/record"
	"github.com/example/wikiembed/internal/service"
)

// BuildSink returns the journal sink selected by cfg.Sink and a function that
// releases it. The "none" sink is nil, which the service treats as disabled.
func BuildSink(cfg config.Config) (service.Sink, func(), error) {
	switch cfg.Sink {
	case "none":
		return nil, func() {}, nil
	case "stdout":
		return newStdoutSink(os.Stdout), func() {}, nil
	case "kafka":
		brokers := splitBrokers(cfg.KafkaBroker)
		if len(brokers) == 0 {
			return nil, nil, fmt.Errorf("kafka brokers are not configured")
		}
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  cfg.KafkaTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
			BatchSize:              100,
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafkacompress.Snappy,
			MaxAttempts:            3,
		}
		return kafkaSink{writer: writer}, func() { writer.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

func splitBrokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type kafkaSink struct {
	writer *kafka.Writer
}

func (k kafkaSink) Send(ctx context.Context, key, value []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// stdoutSink writes every journal record as one JSON log line. Records that
// fail to decode are reported and otherwise skipped.
type stdoutSink struct {
	log zerolog.Logger
}

func newStdoutSink(out io.Writer) *stdoutSink {
	return &stdoutSink{log: zerolog.New(zerolog.SyncWriter(out))}
}

func (s *stdoutSink) Send(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := record.Decode(value)
	if err != nil {
		s.log.Warn().Err(err).Str("key", string(key)).Int("bytes", len(value)).Msg("Undecodable journal record")
		return nil
	}
	ev := s.log.Info().
		Str("wiki", rec.Wiki).
		Str("kind", rec.Kind).
		Str("input", rec.Input).
		Str("output", rec.Output).
		Dur("duration", rec.Duration).
		Time("at", rec.Time)
	if rec.Error != "" {
		ev = ev.Str("error", rec.Error)
	}
	ev.Msg("journal")
	return nil
}
