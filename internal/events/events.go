package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const (
	TypeDeposit    = "ledger.deposit"
	TypeWithdrawal = "ledger.withdrawal"
	TypeTransfer   = "ledger.transfer"
	TypeAccount    = "ledger.account_created"
	TypeDeleted    = "ledger.account_deleted"
)

// LedgerEvent describes one committed change to the ledger. Events are only
// published after the database transaction that produced them has committed.
type LedgerEvent struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"type"`
	AccountID            int64     `json:"account_id"`
	DestinationAccountID *int64    `json:"destination_account_id,omitempty"`
	TransactionID        *int64    `json:"transaction_id,omitempty"`
	TransferID           *int64    `json:"transfer_id,omitempty"`
	Amount               string    `json:"amount,omitempty"`
	Balance              string    `json:"balance,omitempty"`
	ActorUserID          string    `json:"actor_user_id,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LedgerEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends events to a durable topic exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  channel
	exchange string
}

func DialAMQP(uri, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func newPublisher(ch channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(
		p.exchange, // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.channel != nil {
		firstErr = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
