// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/lib/msg"
)

// Exchange the balancer service publishes its events to ("balancer events").
const Exchange = "be"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	log  *zap.Logger
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string, log *zap.Logger) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to broker: %w", err)
	}

	log.Info("connected to broker", zap.String("uri", uri))

	return &Amqp{log: log, conn: conn}, nil
}

// Setup declares the message broker exchange:
//
// - be ("balancer events"): the balancer service publishes lifecycle events to this exchange, with routing keys
// <net>.event.<kind>
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn("error closing amqp channel", zap.Error(err))
		}

		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// channel returns the reusable channel, opening it when needed.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}

		r.ch = ch
	}

	return r.ch, nil
}

// SendEvents publishes lifecycle events to the "be" exchange. Events without an id get a fresh one.
func (r *Amqp) SendEvents(net string, es []msg.Event) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}

	for _, e := range es {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}

		e.Net = net

		// marshal to JSON
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(e); err != nil {
			return err
		}

		pub := amqp.Publishing{
			Headers:     amqp.Table{"x-event-name": net + "." + e.Kind},
			MessageId:   e.ID,
			Timestamp:   e.TS,
			Body:        jsonDoc,
			ContentType: "application/json",
		}

		if err = ch.Publish(Exchange, net+".event."+e.Kind, false, false, pub); err != nil {
			return fmt.Errorf("cannot publish %s event: %w", e.Kind, err)
		}
	}

	return nil
}

// GetEvents consumes events of network net from the "be" exchange pushing them to the returned channel. The Mutex
// pointer is provided to ensure the consumed message has been fully dealt with by the management function, so the
// message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(net string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}

	queue := Exchange + net

	// declare queue and bind it to the exchange
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(queue, net+".event.*", Exchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := ch.Consume(queue, "observer-"+net, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	eves := make(chan msg.Event)
	errs := make(chan error)

	// start routine to consume messages from broker
	go func() {
		defer close(eves)
		defer close(errs)

		for m := range msgs {
			var e msg.Event
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errs <- err

				_ = m.Nack(false, false) // malformed, do not redeliver

				continue
			}

			eves <- e
			mut.Lock() // wait for the observer to finish processing the event
			_ = m.Ack(false)
		}
	}()

	return eves, errs, nil
}
