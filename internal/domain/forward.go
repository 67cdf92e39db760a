package domain

import "math/big"

// ForwardRequest ERC-2771 meta-transaction，签名只覆盖这七个字段
type ForwardRequest struct {
	From     string
	To       string
	Value    *big.Int
	Gas      *big.Int
	Nonce    *big.Int
	Deadline *big.Int // unix seconds, uint48 on-chain
	Data     []byte
}

// Clone 深拷贝，签名后的请求不应与调用方共享 big.Int
func (r ForwardRequest) Clone() ForwardRequest {
	out := ForwardRequest{From: r.From, To: r.To}
	out.Value = cloneInt(r.Value)
	out.Gas = cloneInt(r.Gas)
	out.Nonce = cloneInt(r.Nonce)
	out.Deadline = cloneInt(r.Deadline)
	if r.Data != nil {
		out.Data = append([]byte{}, r.Data...)
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
