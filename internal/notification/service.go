package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// PushHandler acts on one decoded Gmail notification.
type PushHandler interface {
	HandleGmailPush(ctx context.Context, n *GmailNotification) error
}

// Service receives Gmail watch notifications from a Pub/Sub pull
// subscription.
type Service struct {
	pubsubClient *pubsub.Client
	dispatcher   PushHandler
	topicName    string
	subName      string
	logger       *zap.Logger
}

func NewService(ctx context.Context, projectID, topicName, subName, credentialsFile string, dispatcher PushHandler, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	if subName == "" {
		subName = topicName + "-sub"
	}
	return &Service{
		pubsubClient: client,
		dispatcher:   dispatcher,
		topicName:    topicName,
		subName:      subName,
		logger:       logger.Named("pubsub"),
	}, nil
}

// Start blocks receiving messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log := s.logger.With(zap.String("topic", s.topicName), zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		log.Error("subscription unavailable, push sync disabled", zap.Error(err))
		return
	}

	log.Info("listening for gmail notifications")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handleMessage(ctx, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && ctx.Err() == nil {
		log.Error("error receiving messages", zap.Error(err))
	}
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info("created subscription", zap.String("subscription", s.subName))
	return sub, nil
}

// handleMessage reports whether the message can be acked. Malformed
// payloads are acked so they are not redelivered forever.
func (s *Service) handleMessage(ctx context.Context, data []byte) bool {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		s.logger.Warn("malformed gmail notification", zap.Error(err))
		return true
	}
	if err := s.dispatcher.HandleGmailPush(ctx, &n); err != nil {
		s.logger.Warn("failed to handle notification",
			zap.String("email", n.EmailAddress),
			zap.Uint64("history_id", n.HistoryID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}
