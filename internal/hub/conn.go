// Package hub は接続レジストリと配信を担当します
// レジストリはサーバーごとに生成され、グローバルな状態は持ちません
package hub

import "errors"

// Conn は1本の双方向接続を表します
// Send は非ブロッキングで、送信できない場合はエラーを返します
type Conn interface {
	ID() string
	Send(data []byte) error
	Ping() error
	Close() error
}

var (
	ErrNoIdentity        = errors.New("connection has no resolved identity")
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrConnClosed        = errors.New("connection closed")
)
