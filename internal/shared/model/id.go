// Package model 实体 ID 生成
package model

import (
	"crypto/rand"
	"encoding/hex"
)

// ID 前缀约定
const (
	PrefixAgent      = "agt"
	PrefixTask       = "tsk"
	PrefixPackage    = "pkg"
	PrefixAudit      = "aud"
	PrefixBarter     = "brt"
	PrefixLedger     = "txn"
	PrefixReputation = "rep"
	PrefixCapability = "cap"
	PrefixChallenge  = "chl"
	PrefixSession    = "ses"
	PrefixEvent      = "evt"
)

// NewID 生成带前缀的随机 ID
// 格式：prefix-xxxxxxxxxxxx（prefix + 12 字符 hex）
func NewID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
