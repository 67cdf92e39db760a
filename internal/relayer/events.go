package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	commonredis "github.com/anantaryaaa/health-record-dapps-sub001/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RelayEvent 中继结果通知
type RelayEvent struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Nonce     string `json:"nonce"`
	Status    string `json:"status"`
	TxHash    string `json:"transactionHash,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher 通知下游（钱包前端、审计）；失败只记日志
type Publisher interface {
	Publish(ctx context.Context, ev RelayEvent) error
}

// StreamPublisher 写入 redis stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev RelayEvent) error {
	_, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, ev)
	return err
}

// MQTTPublisher 的最小依赖
type mqttClient interface {
	Publish(topic string, payload []byte) error
}

// MQTTPublisher 发布到 {prefix}/{from}
type MQTTPublisher struct {
	client      mqttClient
	topicPrefix string
}

func NewMQTTPublisher(client mqttClient, topicPrefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topicPrefix: strings.TrimRight(topicPrefix, "/")}
}

func (p *MQTTPublisher) Topic(from string) string {
	return p.topicPrefix + "/" + strings.ToLower(from)
}

func (p *MQTTPublisher) Publish(_ context.Context, ev RelayEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(p.Topic(ev.From), b)
}

// fanout 依次发布，一个失败不影响其它
type fanout struct {
	publishers []Publisher
	logger     *zap.Logger
}

func (f fanout) publish(ctx context.Context, ev RelayEvent) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			f.logger.Warn("relay event publish failed",
				zap.String("publisher", fmt.Sprintf("%T", p)),
				zap.String("id", ev.ID),
				zap.Error(err),
			)
		}
	}
}
