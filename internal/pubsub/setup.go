package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

const (
	eventRetention      = 7 * 24 * time.Hour
	subscriptionAck     = 60 * time.Second
	subscriptionExpiry  = 31 * 24 * time.Hour
	maxDeliveryAttempts = 5
)

// TopicNames are the resources created for one event topic.
type TopicNames struct {
	Topic        string
	DeadLetter   string
	Subscription string
}

func NamesFor(topicID string) TopicNames {
	return TopicNames{
		Topic:        topicID,
		DeadLetter:   topicID + "-dlq",
		Subscription: topicID + "-sub",
	}
}

// EnsureTopic creates the event topic, its dead-letter topic and a pull
// subscription for consumers. Existing resources are kept; a subscription
// whose ack deadline or retry policy drifted is updated.
func (p *PubSubPublisher) EnsureTopic(ctx context.Context, topicID string, logger zerolog.Logger) (TopicNames, error) {
	names := NamesFor(topicID)

	dlq, err := p.ensureTopic(ctx, names.DeadLetter, logger)
	if err != nil {
		return names, err
	}
	topic, err := p.ensureTopic(ctx, names.Topic, logger)
	if err != nil {
		return names, err
	}

	want := pubsub.SubscriptionConfig{
		Topic:            topic,
		AckDeadline:      subscriptionAck,
		ExpirationPolicy: subscriptionExpiry,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 600 * time.Second,
		},
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlq.String(),
			MaxDeliveryAttempts: maxDeliveryAttempts,
		},
	}
	return names, p.ensureSubscription(ctx, names.Subscription, want, logger)
}

func (p *PubSubPublisher) ensureTopic(ctx context.Context, topicID string, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := p.client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking topic %s: %w", topicID, err)
	}
	if exists {
		logger.Info().Str("topic", topicID).Msg("Topic already exists")
		return topic, nil
	}

	logger.Info().Str("topic", topicID).Dur("retention", eventRetention).Msg("Creating topic")
	created, err := p.client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{
		RetentionDuration: eventRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("creating topic %s: %w", topicID, err)
	}
	return created, nil
}

func (p *PubSubPublisher) ensureSubscription(ctx context.Context, subID string, want pubsub.SubscriptionConfig, logger zerolog.Logger) error {
	sub := p.client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking subscription %s: %w", subID, err)
	}
	if !exists {
		logger.Info().Str("subscription", subID).Msg("Creating subscription")
		if _, err := p.client.CreateSubscription(ctx, subID, want); err != nil {
			return fmt.Errorf("creating subscription %s: %w", subID, err)
		}
		return nil
	}

	have, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("reading subscription %s: %w", subID, err)
	}
	if have.AckDeadline == want.AckDeadline && sameRetry(have.RetryPolicy, want.RetryPolicy) {
		logger.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}

	logger.Info().Str("subscription", subID).Msg("Updating subscription")
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		AckDeadline: want.AckDeadline,
		RetryPolicy: want.RetryPolicy,
	})
	if err != nil {
		return fmt.Errorf("updating subscription %s: %w", subID, err)
	}
	return nil
}

func sameRetry(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
