package hub

import (
	"sort"
	"sync"
)

// State は接続ごとのプロトコル状態です
// 未認証の接続はレジストリに入らないため、ここには現れません
type State int

const (
	StateUnbound State = iota // 認証済み・グループ未参加
	StateBound                // グループに参加中
)

func (s State) String() string {
	if s == StateBound {
		return "bound"
	}
	return "unbound"
}

// Binding は接続とグループの一時的な結び付きです
type Binding struct {
	State  State
	RoomID string
}

// Session はレジストリのエントリのスナップショットです
type Session struct {
	Conn    Conn
	UserID  string
	Binding Binding
}

type entry struct {
	conn    Conn
	userID  string // 接続時に一度だけ設定され、以後変更されない
	binding Binding
	alive   bool // 前回の巡回以降に生存信号があったか
}

func (e *entry) session() Session {
	return Session{Conn: e.conn, UserID: e.userID, Binding: e.binding}
}

// Registry は生きている接続とグループ参加状態を保持します
// 全操作は単一のRWMutexで保護され、読み手が更新途中の状態を見ることはありません
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry          // 接続ID → エントリ
	rooms map[string]map[string]Conn // グループID → 参加中の接続
}

// NewRegistry は空のレジストリを作成します
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]Conn),
	}
}

// Register は認証済みの接続を未参加状態で登録します
func (r *Registry) Register(conn Conn, userID string) error {
	if userID == "" {
		return ErrNoIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID()]; exists {
		return ErrAlreadyRegistered
	}
	r.conns[conn.ID()] = &entry{conn: conn, userID: userID, alive: true}
	return nil
}

// Bind は接続をグループに結び付けます
// 同じグループへの再参加は何もしません。別グループに参加中の場合は先に解除し、
// 解除したグループIDを返します
func (r *Registry) Bind(conn Conn, roomID string) (previous string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		return "", ErrNotRegistered
	}
	if e.binding.State == StateBound {
		if e.binding.RoomID == roomID {
			return "", nil
		}
		previous = e.binding.RoomID
		r.detachLocked(e)
	}
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]Conn)
		r.rooms[roomID] = members
	}
	members[conn.ID()] = conn
	e.binding = Binding{State: StateBound, RoomID: roomID}
	return previous, nil
}

// Unbind は接続のグループ参加を解除します（接続自体は残ります）
func (r *Registry) Unbind(conn Conn) (previous string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.conns[conn.ID()]
	if !exists || e.binding.State != StateBound {
		return "", false
	}
	previous = e.binding.RoomID
	r.detachLocked(e)
	return previous, true
}

// Remove は接続をレジストリから削除し、削除直前の状態を返します
func (r *Registry) Remove(conn Conn) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		return Session{}, false
	}
	s := e.session()
	r.removeLocked(e)
	return s, true
}

// MembersOf はグループに参加中の接続のコピーを返します
// 返されたスライスはロック外で安全に走査できます
func (r *Registry) MembersOf(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// UsersIn はグループに参加中のユーザーIDを重複なしで返します
func (r *Registry) UsersIn(roomID string) []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for id := range r.rooms[roomID] {
		seen[r.conns[id].userID] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Lookup は接続の現在の状態を返します
func (r *Registry) Lookup(conn Conn) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		return Session{}, false
	}
	return e.session(), true
}

// Touch は生存信号を記録します（pong・ping・任意の受信フレーム）
func (r *Registry) Touch(conn Conn) {
	r.mu.Lock()
	if e, ok := r.conns[conn.ID()]; ok {
		e.alive = true
	}
	r.mu.Unlock()
}

// Reap は前回の巡回以降に生存信号のない接続を削除して返します
// 残った接続は未確認状態に戻され、probe として返されます
func (r *Registry) Reap() (dead []Session, probe []Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.conns {
		if !e.alive {
			dead = append(dead, e.session())
			r.removeLocked(e)
			continue
		}
		e.alive = false
		probe = append(probe, e.conn)
	}
	return dead, probe
}

// All は登録中の全接続のコピーを返します
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

// Stats は参加者のいるグループ数と接続数を返します
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}

func (r *Registry) removeLocked(e *entry) {
	r.detachLocked(e)
	delete(r.conns, e.conn.ID())
}

// detachLocked はグループの参加者集合から外し、空になったグループを削除します
func (r *Registry) detachLocked(e *entry) {
	if e.binding.State != StateBound {
		return
	}
	roomID := e.binding.RoomID
	if members := r.rooms[roomID]; members != nil {
		delete(members, e.conn.ID())
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	e.binding = Binding{State: StateUnbound}
}
