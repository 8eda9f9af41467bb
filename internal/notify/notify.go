// Package notify emits the collaborator-facing signals of the admission
// core: waitlist promotions and cancellations for the notification
// consumer, attendance for the gamification consumer. Delivery is
// fire-and-forget; the admission path never blocks on it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eventpulse/admission/internal/model"
)

// Routing keys for the topic exchange.
const (
	KeyPromoted  = "registration.promoted"
	KeyCancelled = "registration.cancelled"
	KeyAttended  = "registration.attended"
)

// Signal is the payload consumed by the notification and gamification
// collaborators.
type Signal struct {
	Kind        string                   `json:"kind"`
	EventID     int64                    `json:"event_id"`
	PersonEmail string                   `json:"person_email"`
	Status      model.RegistrationStatus `json:"status"`
	At          time.Time                `json:"at"`
}

// Publisher delivers signals to downstream collaborators.
type Publisher interface {
	Publish(ctx context.Context, key string, sig Signal) error
	Close() error
}

// AMQPPublisher publishes signals as JSON to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, sig Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        b,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher is the no-broker fallback: it writes signals to the
// process log so local deployments still surface them.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key string, sig Signal) error {
	log.Printf("signal %s: event=%d person=%s status=%s", key, sig.EventID, sig.PersonEmail, sig.Status)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder captures signals for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	signals []recorded
}

type recorded struct {
	Key string
	Sig Signal
}

func (r *Recorder) Publish(_ context.Context, key string, sig Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, recorded{Key: key, Sig: sig})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Recorded returns the routing keys seen so far, in order.
func (r *Recorder) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.signals))
	for i, s := range r.signals {
		keys[i] = s.Key
	}
	return keys
}

// Last returns the most recent signal for a key, if any.
func (r *Recorder) Last(key string) (Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.signals) - 1; i >= 0; i-- {
		if r.signals[i].Key == key {
			return r.signals[i].Sig, true
		}
	}
	return Signal{}, false
}
