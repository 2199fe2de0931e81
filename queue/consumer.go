package queue

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

// TaskHandler executes one decoded envelope. The delivery contract is
// at-least-once: the consumer marks every message after handling, and
// retries happen only as explicit re-enqueues by the handler itself.
type TaskHandler interface {
	HandleTask(ctx context.Context, env Envelope)
}

// Consumer reads task envelopes from Kafka and feeds them to a TaskHandler.
type Consumer struct {
	consumer sarama.ConsumerGroup
	handler  TaskHandler
	topic    string
	groupID  string
	ready    chan bool
}

// ConsumerConfig holds task consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler TaskHandler
}

// NewConsumer creates a new task consumer.
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		consumer: client,
		handler:  config.Handler,
		topic:    config.Topic,
		groupID:  config.GroupID,
		ready:    make(chan bool),
	}, nil
}

// Start begins consuming tasks. It returns once the consumer group has
// joined; consumption continues until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		taskHandler: c.handler,
		ready:       c.ready,
	}

	go func() {
		for {
			if err := c.consumer.Consume(ctx, []string{c.topic}, handler); err != nil {
				if err == context.Canceled {
					log.Println("Task consumer context canceled")
					return
				}
				log.Printf("Error from task consumer: %v", err)
			}

			if ctx.Err() != nil {
				return
			}
			handler.ready = make(chan bool)
		}
	}()

	<-c.ready
	log.Printf("✅ Task consumer started (group: %s, topic: %s)", c.groupID, c.topic)

	go func() {
		for err := range c.consumer.Errors() {
			log.Printf("❌ Task consumer error: %v", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	log.Println("Closing task consumer...")
	return c.consumer.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	taskHandler TaskHandler
	ready       chan bool
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages()
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			env, err := DecodeEnvelope(message.Value)
			if err != nil {
				// Malformed messages can never succeed; drop them.
				log.Printf("❌ Dropping undecodable task message (partition=%d, offset=%d): %v",
					message.Partition, message.Offset, err)
				session.MarkMessage(message, "")
				continue
			}

			log.Printf("📥 Received %s task %s (video=%d, attempt=%d, partition=%d, offset=%d)",
				env.Kind, env.ID, env.VideoID, env.Attempt, message.Partition, message.Offset)

			// Handlers record outcomes in the store and re-enqueue
			// retries themselves, so every message is marked.
			h.taskHandler.HandleTask(session.Context(), env)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
