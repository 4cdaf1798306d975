package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"your.org/whatsmeow-linker/internal/config"
	ilog "your.org/whatsmeow-linker/internal/log"
)

// Routing keys for pairing lifecycle events.
const (
	RouteCodeIssued       = "code.issued"
	RouteSessionLinked    = "session.linked"
	RouteSessionLoggedOut = "session.logged_out"
)

// EventPublisher publishes pairing lifecycle events to RabbitMQ so
// downstream consumers can react to issued codes and session
// transitions.  It maintains a single shared connection/channel and
// declares the destination exchange on first use.
type EventPublisher struct {
	cfg      *config.Config
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var (
	eventPub     *EventPublisher
	eventPubOnce sync.Once
)

// Init initialises a global publisher instance.  It is safe to call
// multiple times; the first invocation wins.  When no AMQP URL is
// configured publishing becomes a no-op.
func Init(cfg *config.Config) error {
	var initErr error
	eventPubOnce.Do(func() {
		eventPub = &EventPublisher{cfg: cfg, exchange: cfg.AMQPExchange}
		if cfg.AMQPURL != "" {
			initErr = eventPub.ensure()
		}
	})
	return initErr
}

func (p *EventPublisher) ensure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg == nil || p.cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}
	// (Re)connect
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, err := amqp.Dial(p.cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	ilog.Infof("AMQP event publisher connected: exchange=%s", p.exchange)
	return nil
}

// Publish sends the given event payload using routingKey.  Publishing
// is best-effort: the linker never fails a request because an event
// could not be delivered, so callers are expected to log the error
// and move on.
func Publish(routingKey string, payload any) error {
	if eventPub == nil || eventPub.cfg == nil || eventPub.cfg.AMQPURL == "" {
		return nil
	}
	if err := eventPub.ensure(); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"event":   routingKey,
		"at":      time.Now().UTC().Format(time.RFC3339),
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if err := eventPub.ch.Publish(
		eventPub.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	ilog.Debugf("amqp event published rk=%s bytes=%d", routingKey, len(body))
	return nil
}
