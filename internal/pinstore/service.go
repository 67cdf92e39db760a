package pinstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service pin 业务逻辑
type Service struct {
	backend Backend
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(backend Backend, logger *zap.Logger) *Service {
	return &Service{backend: backend, now: time.Now, logger: logger}
}

// Pin 保存 JSON 内容，返回 CID。内容先压缩成紧凑 JSON，同一信封得到同一 CID。
func (s *Service) Pin(ctx context.Context, content json.RawMessage, name string, tags map[string]string) (Pin, error) {
	if len(bytes.TrimSpace(content)) == 0 || bytes.Equal(bytes.TrimSpace(content), []byte("null")) {
		return Pin{}, ErrEmpty
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, content); err != nil {
		return Pin{}, fmt.Errorf("%w: %v", ErrBadContent, err)
	}
	id, err := ComputeCID(buf.Bytes())
	if err != nil {
		return Pin{}, err
	}
	if name == "" {
		name = "pin-" + uuid.NewString()
	}
	pin := Pin{
		ContentID: id,
		Name:      name,
		Tags:      tags,
		Size:      buf.Len(),
		CreatedAt: s.now().UTC(),
	}
	stored, err := s.backend.Put(ctx, pin, buf.Bytes())
	if err != nil {
		return Pin{}, fmt.Errorf("store pin: %w", err)
	}
	pin = stored
	s.logger.Info("content pinned",
		zap.String("content_id", id),
		zap.String("name", pin.Name),
		zap.Int("size", pin.Size),
	)
	return pin, nil
}

// Get 按 CID 读取
func (s *Service) Get(ctx context.Context, contentID string) ([]byte, error) {
	id, err := ParseCID(contentID)
	if err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, id)
}

// ListByTag tag 形如 key:value
func (s *Service) ListByTag(ctx context.Context, tag string) ([]Pin, error) {
	k, v, ok := ParseTag(tag)
	if !ok {
		return nil, fmt.Errorf("tag must be key:value, got %q", tag)
	}
	return s.backend.ListByTag(ctx, k, v)
}
