// Package codec 病历加密编解码：按患者标识派生对称密钥、AES-GCM 加解密、内容哈希。
//
// 密钥 = PBKDF2-HMAC-SHA256(normalize(patientID) || appSecret, appSalt, iterations)。
// 任何知道患者标识和应用密钥的一方都能解密，这是 MVP 的信任取舍：
// appSecret 泄露等于全部病历泄露。
package codec

import (
	"crypto/sha256"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations PBKDF2 最低迭代次数，配置更低的值会被抬高
	MinIterations = 100_000
	// KeySize AES-256
	KeySize = 32
	// IVSize GCM 96-bit nonce
	IVSize = 12
)

var (
	// ErrCryptoUnavailable AES-GCM 初始化失败或随机数源不可用（Encrypt / Decrypt）
	ErrCryptoUnavailable = errors.New("crypto primitives unavailable")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrEmptyPatientID    = errors.New("codec: patient identifier is empty")
)

// Key 对称密钥
type Key [KeySize]byte

// Options 应用级参数（全局固定，由配置注入）
type Options struct {
	Salt       string
	Secret     string
	Iterations int
}

// Codec 持有应用级 salt/secret，本身无可变状态，可并发使用
type Codec struct {
	salt       []byte
	secret     []byte
	iterations int
}

// New 创建 Codec
func New(opts Options) (*Codec, error) {
	if opts.Salt == "" {
		return nil, errors.New("codec: application salt is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("codec: application secret is required")
	}
	iter := opts.Iterations
	if iter < MinIterations {
		iter = MinIterations
	}
	return &Codec{
		salt:       []byte(opts.Salt),
		secret:     []byte(opts.Secret),
		iterations: iter,
	}, nil
}

// NormalizePatientID 去空白 + 小写（EVM 地址大小写只是 checksum）
func NormalizePatientID(patientID string) string {
	return strings.ToLower(strings.TrimSpace(patientID))
}

// DeriveKey 同一 patientID 永远得到同一密钥，不同 patientID 的密钥互相独立
func (c *Codec) DeriveKey(patientID string) (Key, error) {
	var key Key
	id := NormalizePatientID(patientID)
	if id == "" {
		return key, ErrEmptyPatientID
	}
	material := make([]byte, 0, len(id)+len(c.secret))
	material = append(material, id...)
	material = append(material, c.secret...)

	copy(key[:], pbkdf2.Key(material, c.salt, c.iterations, KeySize, sha256.New))
	return key, nil
}
