package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

// AdminNotification is published when a user asks for account verification.
type AdminNotification struct {
	UserID      string    `json:"user_id"`
	Text        string    `json:"text"`
	RequestedAt time.Time `json:"requested_at"`
}

type Notifier interface {
	NotifyAdmin(ctx context.Context, notification *AdminNotification) error
	Close() error
}

type kafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(brokers []string, topic string) (Notifier, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &kafkaNotifier{producer: p, topic: topic}, nil
}

func (n *kafkaNotifier) NotifyAdmin(ctx context.Context, notification *AdminNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(notification.UserID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = n.producer.SendMessage(msg)
	return err
}

func (n *kafkaNotifier) Close() error {
	return n.producer.Close()
}
