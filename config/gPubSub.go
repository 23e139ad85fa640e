package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// OrderEventMessage is the wire shape of realtime notifications published
// after commit by the outbox dispatcher. Subscribers (kitchen displays,
// table sessions, the superadmin console) key on reference_type + action.
type OrderEventMessage struct {
	ID            int       `json:"id"`
	RestaurantId  string    `json:"restaurant_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Action        string    `json:"action"`
	OldObj        []byte    `json:"old_obj"`
	NewObj        []byte    `json:"new_obj"`
	CorrelationId string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getOrderEventsTopic() string {
	if v := os.Getenv("PUBSUB_TOPIC_ORDER_EVENTS"); v != "" {
		return v
	}
	return "order-events"
}

// GetPubSubClient returns a Pub/Sub client, initializing it if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials (Cloud Run service account or
		// GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	return pubsubClient, nil
}

// PublishOrderEventWithResult publishes one event and waits for the server
// message id. Events for the same restaurant share an ordering key so
// subscribers observe status changes in commit order.
func PublishOrderEventWithResult(ctx context.Context, restaurantId string, msg OrderEventMessage) (string, error) {
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(getOrderEventsTopic())
	topic.EnableMessageOrdering = true
	defer topic.Stop()

	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: restaurantId,
		Attributes: map[string]string{
			"restaurant_id":  restaurantId,
			"reference_type": msg.ReferenceType,
			"action":         msg.Action,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClosePubSubClient is best-effort shutdown cleanup.
func ClosePubSubClient() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			log.Printf("failed to close pubsub client: %v", err)
		}
		pubsubClient = nil
	}
}
