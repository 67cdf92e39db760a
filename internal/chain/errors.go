package chain

import (
	"errors"
	"strings"
)

// Category 链上写入失败的稳定分类
type Category string

const (
	AlreadyRegistered     Category = "AlreadyRegistered"
	NotRegistered         Category = "NotRegistered"
	NotWhitelisted        Category = "NotWhitelisted"
	RequestAlreadyPending Category = "RequestAlreadyPending"
	RequestNotPending     Category = "RequestNotPending"
	InvalidIndex          Category = "InvalidIndex"
	AccessNotGranted      Category = "AccessNotGranted"
	UserRejected          Category = "UserRejected"
	InsufficientFunds     Category = "InsufficientFunds"
	Unknown               Category = "Unknown"
)

// ErrChainWriteFailed 所有 WriteError 的哨兵
var ErrChainWriteFailed = errors.New("chain write failed")

// 匹配顺序有意义：already registered 必须先于 not registered
var revertTable = []struct {
	needle   string
	category Category
}{
	{"alreadyregistered", AlreadyRegistered},
	{"notregistered", NotRegistered},
	{"notwhitelisted", NotWhitelisted},
	{"requestalreadypending", RequestAlreadyPending},
	{"alreadypending", RequestAlreadyPending},
	{"requestnotpending", RequestNotPending},
	{"notpending", RequestNotPending},
	{"invalidindex", InvalidIndex},
	{"indexoutof", InvalidIndex},
	{"accessnotgranted", AccessNotGranted},
	{"noaccess", AccessNotGranted},
	{"userrejected", UserRejected},
	{"userdenied", UserRejected},
	{"insufficientfunds", InsufficientFunds},
}

// NormalizeMessage 把 revert reason / RPC 错误映射到 Category。
// "Already registered"、"AlreadyRegistered()"、"already_registered" 都能匹配。
func NormalizeMessage(msg string) Category {
	squashed := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(msg))
	for _, e := range revertTable {
		if strings.Contains(squashed, e.needle) {
			return e.category
		}
	}
	return Unknown
}

// Normalize err 为 nil 时返回空分类
func Normalize(err error) Category {
	if err == nil {
		return ""
	}
	var we *WriteError
	if errors.As(err, &we) {
		return we.Category
	}
	return NormalizeMessage(err.Error())
}

// UserMessage 面向用户的可读描述
func (c Category) UserMessage() string {
	switch c {
	case AlreadyRegistered:
		return "identity is already registered"
	case NotRegistered:
		return "identity is not registered"
	case NotWhitelisted:
		return "hospital is not whitelisted"
	case RequestAlreadyPending:
		return "an access request is already pending"
	case RequestNotPending:
		return "access request is not pending"
	case InvalidIndex:
		return "access request index is invalid"
	case AccessNotGranted:
		return "access has not been granted"
	case UserRejected:
		return "the signer rejected the request"
	case InsufficientFunds:
		return "the paying wallet has insufficient funds"
	}
	return "transaction failed"
}

// WriteError 写链失败，Message 保留原始 revert reason
type WriteError struct {
	Category Category
	Message  string
}

func NewWriteError(err error) *WriteError {
	return &WriteError{Category: Normalize(err), Message: err.Error()}
}

func (e *WriteError) Error() string {
	return string(e.Category) + ": " + e.Category.UserMessage() + " (" + e.Message + ")"
}

func (e *WriteError) Unwrap() error { return ErrChainWriteFailed }
