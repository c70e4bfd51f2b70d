// Package kafka publishes request outputs to a Kafka topic as Arrow IPC
// streams.
package kafka

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"tabserve/internal/logging"
	"tabserve/sink"
)

// ErrBufferFull is returned by Push when the producer input is saturated;
// the record is dropped.
var ErrBufferFull = errors.New("kafka-sink: producer buffer full")

type Config struct {
	Brokers  []string
	Topic    string
	Acks     string // none|local|all
	ClientID string
	Version  string // broker protocol version, empty for the sarama default
}

type driver struct {
	cfg  Config
	p    sarama.AsyncProducer
	mem  memory.Allocator
	wg   sync.WaitGroup
	once sync.Once
}

func requiredAcks(s string) (sarama.RequiredAcks, error) {
	switch s {
	case "none":
		return sarama.NoResponse, nil
	case "", "local":
		return sarama.WaitForLocal, nil
	case "all":
		return sarama.WaitForAll, nil
	}
	return 0, fmt.Errorf("kafka-sink: unknown required_acks %q", s)
}

// SaramaConfig translates cfg into a producer configuration.
func SaramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	acks, err := requiredAcks(cfg.Acks)
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = acks
	sc.Producer.Return.Errors = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka-sink: %w", err)
		}
		sc.Version = v
	}
	return sc, nil
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	sc, err := SaramaConfig(cfg)
	if err != nil {
		return err
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(cfg, p)
	return nil
}

func (d *driver) start(cfg Config, p sarama.AsyncProducer) {
	d.cfg, d.p, d.mem = cfg, p, memory.NewGoAllocator()
	log := logging.Component("sink.kafka")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for perr := range p.Errors() {
			log.Warn("inference log delivery failed", "topic", perr.Msg.Topic, "err", perr.Err)
		}
	}()
}

// Message builds the Kafka message for r. The value is an Arrow IPC stream
// holding the request outputs; failed requests carry an empty value.
func (d *driver) Message(r *sink.Record) (*sarama.ProducerMessage, error) {
	var value []byte
	if r.Outputs != nil && r.Outputs.Len() > 0 {
		rec, err := r.Outputs.ToArrow(d.mem)
		if err != nil {
			return nil, err
		}
		defer rec.Release()
		var buf bytes.Buffer
		w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(d.mem))
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		value = buf.Bytes()
	}
	header := func(k, v string) sarama.RecordHeader {
		return sarama.RecordHeader{Key: []byte(k), Value: []byte(v)}
	}
	return &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(r.RequestID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			header("model", r.Model),
			header("version", strconv.FormatInt(r.Version, 10)),
			header("status", r.Status),
			header("rows", strconv.Itoa(r.Rows)),
			header("error", r.Error),
		},
		Timestamp: r.Time,
	}, nil
}

func (d *driver) Push(r *sink.Record) error {
	if d.p == nil {
		return errors.New("kafka-sink: not configured")
	}
	msg, err := d.Message(r)
	if err != nil {
		return fmt.Errorf("kafka-sink: encode: %w", err)
	}
	select {
	case d.p.Input() <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (d *driver) Close() error {
	d.once.Do(func() {
		if d.p == nil {
			return
		}
		d.p.AsyncClose()
		d.wg.Wait()
	})
	return nil
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
