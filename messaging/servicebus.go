// Package messaging publishes confirmed picker selections to Azure Service
// Bus so that backend consumers can act on a chosen area without polling the
// picker host.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/mycobrun/cobrun-picker/confirm"
)

// Message subjects.
const (
	SubjectSelectionConfirmed = "picker.selection.confirmed"
)

// DefaultSelectionTopic is the topic selections are published to.
const DefaultSelectionTopic = "picker-selections"

// ServiceBusConfig holds Service Bus configuration.
type ServiceBusConfig struct {
	Namespace        string
	ConnectionString string // Optional - if empty, uses managed identity
	Topic            string
}

// Enabled reports whether enough is configured to connect.
func (c ServiceBusConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Namespace != ""
}

// SelectionEvent is the body of a published selection.
type SelectionEvent struct {
	SessionID    string    `json:"session_id"`
	Latitude     float64   `json:"lat"`
	Longitude    float64   `json:"lng"`
	RadiusMeters int       `json:"radius"`
	DeepLinkURI  string    `json:"deep_link"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// NewSelectionEvent builds the event for a confirmed result.
func NewSelectionEvent(sessionID string, result confirm.Result, at time.Time) SelectionEvent {
	return SelectionEvent{
		SessionID:    sessionID,
		Latitude:     result.Latitude,
		Longitude:    result.Longitude,
		RadiusMeters: result.RadiusMeters,
		DeepLinkURI:  result.DeepLinkURI,
		ConfirmedAt:  at.UTC(),
	}
}

// sender is the part of *azservicebus.Sender the publisher uses.
type sender interface {
	SendMessage(ctx context.Context, msg *azservicebus.Message, opts *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// Publisher sends selection events to one topic.
type Publisher struct {
	client *azservicebus.Client
	sender sender
	topic  string
}

// NewPublisher connects to Service Bus and opens a sender for config.Topic.
func NewPublisher(config ServiceBusConfig) (*Publisher, error) {
	var client *azservicebus.Client
	var err error

	if config.ConnectionString != "" {
		client, err = azservicebus.NewClientFromConnectionString(config.ConnectionString, nil)
	} else {
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create credential: %w", credErr)
		}
		fullyQualifiedNamespace := fmt.Sprintf("%s.servicebus.windows.net", config.Namespace)
		client, err = azservicebus.NewClient(fullyQualifiedNamespace, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create service bus client: %w", err)
	}

	topic := config.Topic
	if topic == "" {
		topic = DefaultSelectionTopic
	}

	s, err := client.NewSender(topic, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("failed to create sender for topic %s: %w", topic, err)
	}

	p := newPublisher(s, topic)
	p.client = client
	return p, nil
}

func newPublisher(s sender, topic string) *Publisher {
	return &Publisher{sender: s, topic: topic}
}

// Topic returns the topic name.
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishSelection sends event as JSON. The session id doubles as the
// message's correlation id, and the message id is derived from it and the
// confirmation time so a retried send is de-duplicated by the broker.
func (p *Publisher) PublishSelection(ctx context.Context, event SelectionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	id := event.SessionID + ":" + strconv.FormatInt(event.ConfirmedAt.UnixMilli(), 10)
	contentType := "application/json"
	subject := SubjectSelectionConfirmed

	msg := &azservicebus.Message{
		Body:          body,
		ContentType:   &contentType,
		CorrelationID: &event.SessionID,
		MessageID:     &id,
		Subject:       &subject,
		ApplicationProperties: map[string]any{
			"radius": event.RadiusMeters,
		},
	}

	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to publish selection for session %s: %w", event.SessionID, err)
	}
	return nil
}

// Close closes the sender and the client.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.sender.Close(ctx)
	if p.client != nil {
		if cerr := p.client.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
