package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Producer buffers messages in memory and writes them from one goroutine.
// Publishing never blocks a request on the broker; when the inbox is full
// the message is dropped and logged.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     logrus.FieldLogger
}

// NewProducer builds a producer for several topics; the topic travels on
// each message.
func NewProducer(brokers []string, buf int, log logrus.FieldLogger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log.WithField("component", "kafka-producer"),
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.completed,
	}
	return p
}

func (p *Producer) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		p.log.WithError(err).WithFields(logrus.Fields{"topic": m.Topic, "key": string(m.Key)}).
			Error("kafka write failed")
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if ok {
				p.write(m)
				continue
			}
		default:
		}
		if err := p.w.Close(); err != nil {
			p.log.WithError(err).Warn("close kafka writer")
		}
		return
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.WithError(err).WithField("topic", m.Topic).Error("kafka enqueue failed")
	}
}

func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	default:
		p.log.WithFields(logrus.Fields{"topic": topic, "key": string(key)}).Warn("producer inbox full, event dropped")
	}
}

// Emit encodes value as JSON and publishes it. It satisfies the order
// service's event emitter.
func (p *Producer) Emit(topic string, key []byte, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Error("encode event")
		return
	}
	p.Publish(topic, key, b, kafka.Header{Key: "content-type", Value: []byte("application/json")})
}

// Close stops accepting messages; the writer goroutine flushes what is left.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the writer goroutine has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
