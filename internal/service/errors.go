package service

import (
	"errors"
	"fmt"
)

// カスタムエラー定義
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomSuspended = errors.New("room suspended")
	ErrNotMember     = errors.New("not a member")
)

// PersistenceError は保存処理の失敗（ストア到達不可・タイムアウト・制約違反）を表します
// このエラーが返ったイベントは一度も配信されていません
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
