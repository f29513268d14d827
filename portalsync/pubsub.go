package portalsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/procurelink/portalsync_backend/config"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PublishPassRequest enqueues a reconciliation pass for the worker.
func PublishPassRequest(ctx context.Context, runId uint, tenantId string) error {
	topicName := strings.TrimSpace(os.Getenv("PORTAL_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "portal-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("PORTAL_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(PassRequest{RunId: runId, TenantId: tenantId})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts Pub/Sub push deliveries of queued passes.
// Always acks (204): ExecuteQueuedPass is idempotent and records its own
// failures, so redelivering a broken message buys nothing.
func PubSubPushHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_PORTAL_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var req PassRequest
		if err := json.Unmarshal(envelope.Message.Data, &req); err != nil {
			c.Status(204)
			return
		}
		if req.RunId == 0 || req.TenantId == "" {
			c.Status(204)
			return
		}

		if err := ExecuteQueuedPass(c.Request.Context(), engine, req); err != nil {
			config.LogError(engine.log(), "portalsync", "PubSubPushHandler", "execute queued pass", req, err)
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
