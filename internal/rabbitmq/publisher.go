package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const appID = "presence-service"

// Publisher sends presence, message and audit events as JSON.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to the broker and declares exchange as a durable
// topic exchange. Any failure, or an empty amqpURL, yields a publisher that
// discards events so the service keeps running without a broker.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return disabled("empty amqp url")
	}

	p, err := dial(amqpURL, exchange)
	if err != nil {
		return disabled(err.Error())
	}
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p
}

func dial(amqpURL, exchange string) (*brokerPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// durable topic exchange
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &brokerPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func disabled(reason string) discardPublisher {
	log.Printf("rabbitmq disabled, events are discarded reason=%q", reason)
	return discardPublisher{reason: reason}
}

type brokerPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *brokerPublisher) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		AppId:        appID,
		MessageId:    uuid.NewString(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if len(headers) > 0 {
		msg.Headers = make(amqp.Table, len(headers))
		for k, v := range headers {
			msg.Headers[k] = v
		}
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		log.Printf("rabbitmq publish failed exchange=%s routing_key=%s: %v", p.exchange, routingKey, err)
		return err
	}
	return nil
}

func (p *brokerPublisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

type discardPublisher struct {
	reason string
}

func (discardPublisher) PublishJSON(context.Context, string, any, map[string]string) error {
	return nil
}

func (discardPublisher) Close() error {
	return nil
}

// Describe reports how p delivers events ("amqp" or "noop") and, for a
// noop publisher, why the broker was not used.
func Describe(p Publisher) (mode, reason string) {
	switch pub := p.(type) {
	case *brokerPublisher:
		return "amqp", ""
	case discardPublisher:
		return "noop", pub.reason
	default:
		return "unknown", ""
	}
}
