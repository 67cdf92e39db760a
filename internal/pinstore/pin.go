// Package pinstore 内容寻址存储服务：按内容计算 CIDv0，保存密文信封，按 cid / tag 查询。
// 服务只保存客户端已加密的信封，从不接触明文。
package pinstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrNotFound   = errors.New("pin not found")
	ErrInvalidCID = errors.New("invalid content id")
	ErrEmpty      = errors.New("content is empty")
	ErrBadContent = errors.New("content is not valid JSON")
)

// Pin 元数据
type Pin struct {
	ContentID string            `json:"contentId"`
	Name      string            `json:"name"`
	Tags      map[string]string `json:"tags,omitempty"`
	Size      int               `json:"size"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Backend 存储后端（leveldb / s3 / memory）。
// Put 返回实际保存的元数据：同一内容再次 pin 时与已有元数据合并。
type Backend interface {
	Put(ctx context.Context, pin Pin, content []byte) (Pin, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
	ListByTag(ctx context.Context, key, value string) ([]Pin, error)
	Close() error
}

// ComputeCID sha2-256 multihash 的 CIDv0（Qm...）
func ComputeCID(content []byte) (string, error) {
	mh, err := multihash.Sum(content, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV0(mh).String(), nil
}

// ParseCID 校验客户端传来的 contentId
func ParseCID(s string) (string, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return c.String(), nil
}

// ParseTag "key:value"
func ParseTag(s string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(s, ":")
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// tagIndexKey "{k}={v}"。k、v 经过 QueryEscape，转义后不含 = : /，不同 tag 不会互为前缀
func tagIndexKey(k, v string) string {
	return url.QueryEscape(k) + "=" + url.QueryEscape(v)
}

// mergePin 保留首次 pin 的名字和时间，补充新的 tag；同名 tag 以首次为准
func mergePin(existing, incoming Pin) Pin {
	merged := existing
	merged.Tags = make(map[string]string, len(existing.Tags)+len(incoming.Tags))
	for k, v := range existing.Tags {
		merged.Tags[k] = v
	}
	for k, v := range incoming.Tags {
		if _, ok := merged.Tags[k]; !ok {
			merged.Tags[k] = v
		}
	}
	return merged
}
