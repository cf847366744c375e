package protocol

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/metrics"
	"github.com/comunidad-segura/realtime-api/internal/models"
	"github.com/comunidad-segura/realtime-api/internal/service"
)

// MembershipChecker はグループ参加の判定と緊急グループ一覧を提供します
type MembershipChecker interface {
	CheckJoin(ctx context.Context, roomId, userId string) error
	EmergencyRoomIDs(ctx context.Context) ([]string, error)
}

// EventStore はイベントを保存し、採番済みのレコードを返します
type EventStore interface {
	Store(ctx context.Context, draft models.ChatEvent) (models.ChatEvent, error)
	StoreEmergency(ctx context.Context, draft models.EmergencyEvent) (models.EmergencyEvent, error)
}

// UserDirectory は送信者の表示情報を返します
type UserDirectory interface {
	GetUserDisplay(ctx context.Context, userId string) (models.UserDisplay, bool, error)
}

// Dispatcher は接続ごとのフレームを順に処理します
// 状態（未参加 / 参加中）はレジストリのエントリに保持され、接続オブジェクトには持たせません
type Dispatcher struct {
	reg     *hub.Registry
	bc      *hub.Broadcaster
	rooms   MembershipChecker
	events  EventStore
	users   UserDirectory
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Deps はDispatcherの依存関係です
type Deps struct {
	Registry    *hub.Registry
	Broadcaster *hub.Broadcaster
	Rooms       MembershipChecker
	Events      EventStore
	Users       UserDirectory
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// NewDispatcher は新しいDispatcherを作成します
func NewDispatcher(d Deps) *Dispatcher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reg:     d.Registry,
		bc:      d.Broadcaster,
		rooms:   d.Rooms,
		events:  d.Events,
		users:   d.Users,
		logger:  logger,
		metrics: d.Metrics,
	}
}

// Handle は1フレームを処理します
// エラーはリクエスト元にのみ返され、接続は維持されます
func (d *Dispatcher) Handle(ctx context.Context, conn hub.Conn, data []byte) {
	sess, ok := d.reg.Lookup(conn)
	if !ok {
		d.logger.Debug("frame from unregistered connection dropped", "connId", conn.ID())
		return
	}
	d.reg.Touch(conn)

	frame, err := Decode(data)
	if err != nil {
		d.logger.Warn("ignoring frame", "connId", conn.ID(), "userId", sess.UserID, "error", err)
		d.metrics.Frame("invalid")
		return
	}
	d.metrics.Frame(frame.Type())

	switch f := frame.(type) {
	case JoinFrame:
		d.handleJoin(ctx, conn, sess, f)
	case LeaveFrame:
		d.handleLeave(conn, sess)
	case MessageFrame:
		d.handleMessage(ctx, conn, sess, f)
	case LocationFrame:
		d.handleLocation(ctx, conn, sess, f)
	case EmergencyFrame:
		d.handleEmergency(ctx, conn, sess, f)
	case TypingFrame:
		d.handleTyping(conn, sess)
	case PingFrame:
		d.reply(conn, PongFrame{Type: TypePong})
	}
}

// Disconnect は切断された接続をレジストリから削除し、参加中だったグループに退出を通知します
func (d *Dispatcher) Disconnect(conn hub.Conn) {
	sess, ok := d.reg.Remove(conn)
	if !ok {
		return
	}
	d.announceDeparture(sess)
}

// Evicted は死活監視で削除された接続の退出を通知します
func (d *Dispatcher) Evicted(sess hub.Session) {
	d.announceDeparture(sess)
}

func (d *Dispatcher) announceDeparture(sess hub.Session) {
	if sess.Binding.State != hub.StateBound {
		return
	}
	d.bc.Deliver(sess.Binding.RoomID, presence(TypeUserLeft, sess.UserID, sess.Binding.RoomID), nil)
}

func (d *Dispatcher) handleJoin(ctx context.Context, conn hub.Conn, sess hub.Session, f JoinFrame) {
	if f.RoomID == "" {
		d.replyError(conn, MsgRoomRequired)
		return
	}
	if err := d.rooms.CheckJoin(ctx, f.RoomID, sess.UserID); err != nil {
		d.logger.Info("join rejected", "connId", conn.ID(), "userId", sess.UserID, "roomId", f.RoomID, "error", err)
		d.replyError(conn, joinErrorMessage(err))
		return
	}

	alreadyBound := sess.Binding.State == hub.StateBound && sess.Binding.RoomID == f.RoomID
	previous, err := d.reg.Bind(conn, f.RoomID)
	if err != nil {
		d.logger.Warn("bind failed", "connId", conn.ID(), "roomId", f.RoomID, "error", err)
		return
	}
	if previous != "" {
		// 暗黙の移動でも旧グループには退出を通知する
		d.bc.Deliver(previous, presence(TypeUserLeft, sess.UserID, previous), nil)
	}
	if !alreadyBound {
		d.bc.Deliver(f.RoomID, presence(TypeUserJoined, sess.UserID, f.RoomID), conn)
		d.logger.Info("user joined room", "connId", conn.ID(), "userId", sess.UserID, "roomId", f.RoomID, "previousRoomId", previous)
	}
	d.reply(conn, JoinedFrame{Type: TypeJoined, RoomID: f.RoomID})
}

func (d *Dispatcher) handleLeave(conn hub.Conn, sess hub.Session) {
	roomID, ok := boundRoom(sess)
	if !ok {
		d.replyError(conn, MsgJoinFirst)
		return
	}
	d.bc.Deliver(roomID, presence(TypeUserLeft, sess.UserID, roomID), nil)
	d.reg.Unbind(conn)
	d.logger.Info("user left room", "connId", conn.ID(), "userId", sess.UserID, "roomId", roomID)
}

func (d *Dispatcher) handleMessage(ctx context.Context, conn hub.Conn, sess hub.Session, f MessageFrame) {
	roomID, ok := boundRoom(sess)
	if !ok {
		d.replyError(conn, MsgJoinFirst)
		return
	}
	if !hasContent(f) {
		d.replyError(conn, MsgContentRequired)
		return
	}

	draft := models.ChatEvent{
		RoomID:   roomID,
		SenderID: sess.UserID,
		Kind:     f.Kind,
		Body:     strings.TrimSpace(f.Body),
		FileURL:  f.FileURL,
	}
	if f.Kind.IsMedia() {
		draft.PhotoMetadata = f.Photo
	}
	d.persistAndBroadcast(ctx, conn, draft, TypeNewMessage)
}

func (d *Dispatcher) handleLocation(ctx context.Context, conn hub.Conn, sess hub.Session, f LocationFrame) {
	roomID, ok := boundRoom(sess)
	if !ok {
		d.replyError(conn, MsgJoinFirst)
		return
	}
	if f.Latitude == nil || f.Longitude == nil {
		d.replyError(conn, MsgCoordsRequired)
		return
	}

	draft := models.ChatEvent{
		RoomID:    roomID,
		SenderID:  sess.UserID,
		Kind:      models.KindLocation,
		Body:      strings.TrimSpace(f.Body),
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
	}
	d.persistAndBroadcast(ctx, conn, draft, TypeNewLocation)
}

// persistAndBroadcast は保存に成功したイベントだけを送信者を含むグループ全員に配信します
func (d *Dispatcher) persistAndBroadcast(ctx context.Context, conn hub.Conn, draft models.ChatEvent, outType string) {
	ev, err := d.events.Store(ctx, draft)
	if err != nil {
		d.metrics.PersistFailed()
		d.logger.Error("failed to persist event", "connId", conn.ID(), "userId", draft.SenderID, "roomId", draft.RoomID, "kind", draft.Kind, "error", err)
		d.replyError(conn, MsgMessageFailed)
		return
	}

	display := d.display(ctx, ev.SenderID)
	d.bc.Deliver(ev.RoomID, NewMessageFrame{
		Type:         outType,
		Message:      ev,
		SenderName:   display.Name,
		SenderAvatar: display.AvatarURL,
	}, nil)
}

// handleEmergency はグループ参加を必要としません
// 通知先は有効な緊急グループ全体、または指定されたグループとの共通部分です
func (d *Dispatcher) handleEmergency(ctx context.Context, conn hub.Conn, sess hub.Session, f EmergencyFrame) {
	targets, err := d.emergencyTargets(ctx, f.TargetRooms)
	if err != nil {
		// 通知先が計算できなくても通報の記録は残す
		d.logger.Error("failed to resolve emergency rooms", "connId", conn.ID(), "userId", sess.UserID, "error", err)
		targets = []string{}
	}

	ev, err := d.events.StoreEmergency(ctx, models.EmergencyEvent{
		SenderID:    sess.UserID,
		Kind:        f.Kind,
		Body:        strings.TrimSpace(f.Body),
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		TargetRooms: targets,
	})
	if err != nil {
		d.metrics.PersistFailed()
		d.logger.Error("failed to persist emergency", "connId", conn.ID(), "userId", sess.UserID, "kind", f.Kind, "error", err)
		d.replyError(conn, MsgEmergencyFailed)
		return
	}
	d.metrics.Emergency()

	display := d.display(ctx, ev.SenderID)
	delivered := d.bc.FanOut(targets, EmergencyAlertFrame{
		Type:        TypeEmergencyAlert,
		Emergency:   ev,
		SenderName:  display.Name,
		SenderPhone: display.Phone,
	})
	d.logger.Warn("emergency broadcast", "emergencyId", ev.ID, "userId", sess.UserID, "kind", ev.Kind, "rooms", len(targets), "deliveries", delivered)

	d.reply(conn, EmergencyConfirmedFrame{
		Type:          TypeEmergencyConfirmed,
		Emergency:     ev,
		RoomsNotified: len(targets),
	})
}

func (d *Dispatcher) emergencyTargets(ctx context.Context, requested []string) ([]string, error) {
	all, err := d.rooms.EmergencyRoomIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return all, nil
	}
	want := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		want[id] = struct{}{}
	}
	out := make([]string, 0, len(requested))
	for _, id := range all {
		if _, ok := want[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Dispatcher) handleTyping(conn hub.Conn, sess hub.Session) {
	roomID, ok := boundRoom(sess)
	if !ok {
		d.replyError(conn, MsgJoinFirst)
		return
	}
	d.bc.Deliver(roomID, presence(TypeUserTyping, sess.UserID, roomID), conn)
}

// display は表示情報を取得します。取得できない場合は空の情報で配信を続けます
func (d *Dispatcher) display(ctx context.Context, userID string) models.UserDisplay {
	if d.users == nil {
		return models.UserDisplay{}
	}
	u, ok, err := d.users.GetUserDisplay(ctx, userID)
	if err != nil {
		d.logger.Warn("failed to load sender profile", "userId", userID, "error", err)
		return models.UserDisplay{}
	}
	if !ok {
		return models.UserDisplay{}
	}
	return u
}

func (d *Dispatcher) reply(conn hub.Conn, payload any) {
	_ = d.bc.SendTo(conn, payload)
}

func (d *Dispatcher) replyError(conn hub.Conn, msg string) {
	d.reply(conn, errorFrame(msg))
}

func boundRoom(sess hub.Session) (string, bool) {
	if sess.Binding.State != hub.StateBound {
		return "", false
	}
	return sess.Binding.RoomID, true
}

// joinErrorMessage はサービス層のエラーをクライアント向けメッセージに変換します
func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return MsgRoomNotFound
	case errors.Is(err, service.ErrRoomSuspended):
		return MsgRoomSuspended
	case errors.Is(err, service.ErrNotMember):
		return MsgNotMember
	default:
		return MsgInternal
	}
}
