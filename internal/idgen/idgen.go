// Package idgen はサーバー側で採番するIDを生成します
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID は時刻順に並ぶULIDを返します
// 同一ミリ秒内でも単調増加するため、保存順とID順が一致します
func NewULID() string {
	return NewULIDAt(time.Now().UTC())
}

// NewULIDAt は指定時刻のULIDを返します
func NewULIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
