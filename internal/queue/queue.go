// internal/queue/queue.go
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

const campaignQueue = "campaign_jobs"

// Outcome tells the consume loop what to do with a delivery.
type Outcome int

const (
	// Ack removes the job; processing finished or is someone else's.
	Ack Outcome = iota
	// Retry re-publishes the job with an incremented attempt count.
	Retry
	// Requeue puts the delivery back without burning an attempt; used
	// when storage was unavailable and the job itself is fine.
	Requeue
	// DeadLetter drops the job after the handler recorded the failure.
	DeadLetter
)

// Handler processes one job. The attempt count on the job reflects the
// delivery's x-attempt-count header.
type Handler func(job model.Job) Outcome

// JobQueue is the durable at-least-once dispatch channel for campaigns.
type JobQueue interface {
	Publish(job model.Job) error
	Consume(handler Handler) error
	Close() error
}

// RabbitQueue carries campaign jobs over a durable RabbitMQ queue with
// manual acks. A crash between dequeue and ack redelivers the job.
type RabbitQueue struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	maxAttempts int
	log         *slog.Logger
}

func NewRabbitQueue(url string, maxAttempts int, log *slog.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		campaignQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	// One unacked job per consumer: a worker holds exactly one campaign.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch, maxAttempts: maxAttempts, log: log}, nil
}

func (q *RabbitQueue) Publish(job model.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"", campaignQueue, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{"x-attempt-count": int32(job.Attempt)},
			Body:         body,
		},
	)
}

// Consume blocks, feeding deliveries to the handler one at a time.
// Retry outcomes re-publish with attempt+1 and ack the original, so the
// attempt header survives across redeliveries.
func (q *RabbitQueue) Consume(handler Handler) error {
	msgs, err := q.ch.Consume(campaignQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for d := range msgs {
		var job model.Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			q.log.Warn("dropping malformed job", "error", err)
			d.Ack(false)
			continue
		}
		job.Attempt = attemptFrom(d.Headers)

		switch handler(job) {
		case Retry:
			if job.Attempt+1 >= q.maxAttempts {
				q.log.Error("job exhausted attempts", "campaign_id", job.CampaignID, "attempts", job.Attempt+1)
				d.Ack(false)
				continue
			}
			next := job
			next.Attempt++
			if err := q.Publish(next); err != nil {
				// Keep the original delivery alive; the broker redelivers.
				q.log.Error("requeue failed, nacking", "campaign_id", job.CampaignID, "error", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		case Requeue:
			d.Nack(false, true)
		case DeadLetter:
			d.Ack(false)
		default:
			d.Ack(false)
		}
	}
	return nil
}

func attemptFrom(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers["x-attempt-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *RabbitQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}

var _ JobQueue = (*RabbitQueue)(nil)
