package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

const dispatchExchange = "dispatch.events"

// RabbitEventPublisher публикует события рассылки в RabbitMQ.
type RabbitEventPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitEventPublisher создаёт издателя. Соединение устанавливается
// лениво при первой публикации и переоткрывается после обрыва.
func NewRabbitEventPublisher(url string) (*RabbitEventPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	return &RabbitEventPublisher{url: url}, nil
}

// PublishDispatch отдаёт событие во внешнюю шину.
func (p *RabbitEventPublisher) PublishDispatch(ctx context.Context, event domain.DispatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	routingKey := fmt.Sprintf("dispatch.%s", event.Outcome)
	start := time.Now()
	err = ch.PublishWithContext(ctx, dispatchExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.SentAt,
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", dispatchExchange, start, err)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (p *RabbitEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.ch = nil
	return err
}

func (p *RabbitEventPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(dispatchExchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *RabbitEventPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
}
