package databus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

// NewDataBus connects a sync producer to the comma separated brokers.
func NewDataBus(host string) (*DataBus, error) {
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	log.Info("Kafka producer initialized...")
	return NewDataBusWithProducer(p), nil
}

func NewDataBusWithProducer(p sarama.SyncProducer) *DataBus {
	return &DataBus{producer: p}
}

func (db *DataBus) PublishRaw(topic string, key, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	_, _, err := db.producer.SendMessage(msg)
	return errors.WrapAndReport(err, "produce message")
}

func (db *DataBus) Publish(e Event) error {
	return db.PublishRaw(e.Topic(), nil, e.Serialize())
}

func (db *DataBus) Close() error {
	return db.producer.Close()
}

// traceMessage is a sign trace event bound to a kafka topic.
type traceMessage struct {
	topic string
	event sign.TraceEvent
}

func (m traceMessage) Topic() string { return m.topic }

func (m traceMessage) Serialize() []byte {
	raw, err := json.Marshal(m.event)
	if err != nil {
		log.Warnf("encode trace event %s:%v", m.event.Name, err)
		return nil
	}
	return raw
}

const defaultTraceBuffer = 1024

// TraceSink ships sign trace events to kafka, keyed by relay topic so one
// topic's events stay in one partition. Trace never blocks: events that do
// not fit the buffer are dropped.
type TraceSink struct {
	bus    *DataBus
	topic  string
	events chan sign.TraceEvent
	done   chan struct{}
}

func NewTraceSink(bus *DataBus, topic string, buffer int) *TraceSink {
	if buffer <= 0 {
		buffer = defaultTraceBuffer
	}
	return &TraceSink{
		bus:    bus,
		topic:  topic,
		events: make(chan sign.TraceEvent, buffer),
		done:   make(chan struct{}),
	}
}

func (s *TraceSink) Trace(_ context.Context, event sign.TraceEvent) {
	select {
	case s.events <- event:
	default:
		log.Warnf("trace buffer full, dropped %s on %s", event.Name, event.Topic)
	}
}

// Start ships buffered events until ctx is done; what is still buffered
// then is flushed before Done is closed.
func (s *TraceSink) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

func (s *TraceSink) Done() <-chan struct{} {
	return s.done
}

func (s *TraceSink) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case e := <-s.events:
			s.ship(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.events:
					s.ship(e)
				default:
					return
				}
			}
		}
	}
}

func (s *TraceSink) ship(e sign.TraceEvent) {
	msg := traceMessage{topic: s.topic, event: e}
	start := time.Now()
	if err := s.bus.PublishRaw(msg.Topic(), []byte(e.Topic), msg.Serialize()); err != nil {
		log.WithTopic(e.Topic).Errorf("ship trace %s:%v", e.Name, err)
		return
	}
	log.WithTopic(e.Topic).Debugf("shipped trace %s in %s", e.Name, time.Since(start))
}
