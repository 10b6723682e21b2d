package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/UjanGuin/ZYLO-LINK/internal/assistant"
	"github.com/UjanGuin/ZYLO-LINK/internal/auth"
	"github.com/UjanGuin/ZYLO-LINK/internal/config"
	"github.com/UjanGuin/ZYLO-LINK/internal/metrics"
	"github.com/UjanGuin/ZYLO-LINK/internal/models"
	"github.com/UjanGuin/ZYLO-LINK/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Store 是路由器消费的持久化边界；生产实现在 service 包，测试用内存假件。
type Store interface {
	GetUser(id string) (*models.User, error)
	CreateChat(requesterID, targetID string) (roomID, chatName string, err error)
	AddMember(roomID, requesterID, targetID string) (*models.Message, error)
	ListChats(userID string) ([]service.ChatSummary, error)
	RoomUsers(roomID string) ([]service.Participant, error)
	IsMember(roomID, userID string) (bool, error)
	RenameChat(roomID, userID, newName string) error
	DeleteChat(roomID, userID string) error
	SaveMessage(msg *models.Message) error
	History(roomID string) ([]service.MessageDTO, error)
	MarkRead(roomID, readerID string) (int64, error)
	SaveAssistantKey(userID, key string) error
	ChargeAssistantUse(userID string, freeLimit int) (bool, error)
}

// Router 是消息核心的状态机：校验入站事件、落库、再按订阅扇出。
// 校验在这里一次性解决，被拒绝的操作不会写进任何表。
type Router struct {
	hub       *Hub
	store     Store
	cfg       config.Config
	bridge    *assistant.Bridge
	freeLimit int
}

func NewRouter(hub *Hub, store Store, cfg config.Config) *Router {
	return &Router{hub: hub, store: store, cfg: cfg, freeLimit: cfg.AssistantFreeLimit}
}

// AttachBridge 注入助手桥；桥的 publish 回调又指回本路由器，所以分两步装配。
func (r *Router) AttachBridge(b *assistant.Bridge) {
	r.bridge = b
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(req *http.Request) bool { return true },
}

// Serve 处理 /ws 升级：用 JWT 绑定身份，登记会话并启动读写泵。
func (r *Router) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, r.cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := r.store.GetUser(claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		s := newSession(r.hub, conn, user.ID, user.Name)
		r.hub.Register(s)

		go s.writePump()
		s.readPump(r)
	}
}

// Handle 按事件类型分发。任何分支都不会让会话崩溃：
// 校验失败要么静默丢弃，要么回一条 error 事件。
func (r *Router) Handle(s *Session, env Envelope) {
	metrics.WsEventsTotal.WithLabelValues(env.Type).Inc()
	switch env.Type {
	case EvtLogin:
		// 身份已在升级时绑定，这里只是幂等地补订个人频道。
		r.hub.Subscribe(s, s.userID)
		r.sendTo(s, EvtAck, gin.H{"event": EvtLogin})
	case EvtCreateChat:
		r.handleCreateChat(s, env.Data)
	case EvtAddMember:
		r.handleAddMember(s, env.Data)
	case EvtGetChats:
		r.handleGetChats(s)
	case EvtJoinRoom:
		r.handleJoinRoom(s, env.Data)
	case EvtSendMessage:
		r.handleSendMessage(s, env.Data)
	case EvtMarkRead:
		r.handleMarkRead(s, env.Data)
	case EvtRenameChat:
		r.handleRenameChat(s, env.Data)
	case EvtDeleteChat:
		r.handleDeleteChat(s, env.Data)
	case EvtSaveCredential:
		r.handleSaveCredential(s, env.Data)
	case EvtAvatarUpdate:
		r.handleAvatarUpdate(s, env.Data)
	default:
		r.sendTo(s, EvtError, gin.H{"message": "unknown event type"})
	}
}

func (r *Router) handleCreateChat(s *Session, data json.RawMessage) {
	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TargetID == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	roomID, chatName, err := r.store.CreateChat(s.userID, req.TargetID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			r.sendTo(s, EvtChatCreated, gin.H{"success": false, "message": "User ID not found"})
			return
		}
		log.Error().Err(err).Str("user_id", s.userID).Msg("create chat")
		r.sendTo(s, EvtError, gin.H{"message": "failed to create chat"})
		return
	}
	r.sendTo(s, EvtChatCreated, gin.H{"success": true, "room_id": roomID, "chat_name": chatName})
}

func (r *Router) handleAddMember(s *Session, data json.RawMessage) {
	var req struct {
		RoomID   string `json:"room_id"`
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.TargetID == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	sysMsg, err := r.store.AddMember(req.RoomID, s.userID, req.TargetID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			r.sendTo(s, EvtError, gin.H{"message": "User not found"})
		case errors.Is(err, service.ErrAlreadyMember):
			r.sendTo(s, EvtError, gin.H{"message": "User already in chat"})
		default:
			log.Error().Err(err).Str("room_id", req.RoomID).Msg("add member")
			r.sendTo(s, EvtError, gin.H{"message": "failed to add member"})
		}
		return
	}
	// 先让现有订阅者在消息流里看到系统消息，再走频道外通知新成员；
	// 新成员此刻还没订阅房间频道，只能靠个人频道得知列表变化。
	r.hub.Broadcast(req.RoomID, eventPayload(EvtMessage, service.ToDTO(sysMsg)))
	r.hub.Broadcast(req.TargetID, eventPayload(EvtChatAdded, gin.H{"room_id": req.RoomID}))
	r.sendTo(s, EvtAck, gin.H{"event": EvtAddMember, "message": "Member added"})
}

func (r *Router) handleGetChats(s *Session) {
	chats, err := r.store.ListChats(s.userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", s.userID).Msg("list chats")
		r.sendTo(s, EvtError, gin.H{"message": "failed to list chats"})
		return
	}
	r.sendTo(s, EvtChatList, chats)
}

func (r *Router) handleJoinRoom(s *Session, data json.RawMessage) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	r.hub.Subscribe(s, req.RoomID)

	// 进房即把其他人发的消息推进为已读，并向全房间广播回执。
	if _, err := r.store.MarkRead(req.RoomID, s.userID); err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("mark read on join")
	} else {
		r.hub.Broadcast(req.RoomID, eventPayload(EvtMessagesRead,
			gin.H{"room_id": req.RoomID, "reader_id": s.userID}))
	}

	history, err := r.store.History(req.RoomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("load history")
		r.sendTo(s, EvtError, gin.H{"message": "failed to load history"})
		return
	}
	r.sendTo(s, EvtHistory, history)

	roster, err := r.store.RoomUsers(req.RoomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("load roster")
		return
	}
	r.sendTo(s, EvtRoomUsers, roster)
}

func (r *Router) handleSendMessage(s *Session, data json.RawMessage) {
	var req struct {
		RoomID   string `json:"room_id"`
		Type     string `json:"type"`
		Content  string `json:"content"`
		Filename string `json:"filename"`
	}
	// 容忍畸形或迟到的客户端状态：缺字段、查无房间、非成员一律静默丢弃。
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if req.RoomID == "" || s.userID == "" || req.Content == "" {
		return
	}
	ok, err := r.store.IsMember(req.RoomID, s.userID)
	if err != nil || !ok {
		return
	}

	kind := resolveKind(req.Type)
	msg := models.Message{
		RoomID:   req.RoomID,
		SenderID: s.userID,
		Kind:     kind,
		Content:  req.Content,
		Filename: req.Filename,
		Status:   models.StatusSent,
	}
	if err := r.store.SaveMessage(&msg); err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("save message")
		return
	}
	metrics.WsMessagesTotal.Inc()
	r.hub.Broadcast(req.RoomID, eventPayload(EvtMessage, service.ToDTO(&msg)))

	if kind == models.KindText && assistant.Mentioned(req.Content) {
		r.triggerAssistant(s, req.RoomID, req.Content)
	}
}

// triggerAssistant 执行配额闸门并把外部调用甩给桥；人类消息此刻已经
// 落库且广播完毕，这里的任何分支都不再影响它。
func (r *Router) triggerAssistant(s *Session, roomID, content string) {
	user, err := r.store.GetUser(s.userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", s.userID).Msg("assistant eligibility")
		return
	}
	// 闸门与计数是存储层的一条条件更新，并发提及只有一个能占到最后一格。
	charged, err := r.store.ChargeAssistantUse(s.userID, r.freeLimit)
	if err != nil {
		log.Error().Err(err).Str("user_id", s.userID).Msg("charge assistant use")
		return
	}
	if !charged {
		r.sendTo(s, EvtLimitReached, gin.H{
			"message": "Free assistant limit reached. Save an API credential to continue.",
			"used":    user.AssistantUses,
			"limit":   r.freeLimit,
		})
		return
	}
	if r.bridge == nil {
		log.Warn().Msg("assistant bridge not attached")
		return
	}
	r.bridge.Dispatch(assistant.Job{
		RoomID: roomID,
		Prompt: assistant.Prompt(content),
		APIKey: user.AssistantKey,
	})
}

// PublishAssistantReply 是桥的完成回调：以保留的助手身份落库，
// 再走普通的房间扇出路径，序列号由存储在完成时刻分配。
func (r *Router) PublishAssistantReply(roomID, reply string) {
	msg := models.Message{
		RoomID:   roomID,
		SenderID: models.SenderAssistant,
		Kind:     models.KindText,
		Content:  reply,
		Status:   models.StatusSent,
	}
	if err := r.store.SaveMessage(&msg); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("save assistant reply")
		return
	}
	r.hub.Broadcast(roomID, eventPayload(EvtMessage, service.ToDTO(&msg)))
}

func (r *Router) handleMarkRead(s *Session, data json.RawMessage) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	if _, err := r.store.MarkRead(req.RoomID, s.userID); err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("mark read")
		return
	}
	r.hub.Broadcast(req.RoomID, eventPayload(EvtMessagesRead,
		gin.H{"room_id": req.RoomID, "reader_id": s.userID}))
}

func (r *Router) handleRenameChat(s *Session, data json.RawMessage) {
	var req struct {
		RoomID  string `json:"room_id"`
		NewName string `json:"new_name"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.NewName == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	if err := r.store.RenameChat(req.RoomID, s.userID, req.NewName); err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("rename chat")
		return
	}
	r.sendTo(s, EvtAck, gin.H{"event": EvtRenameChat})
}

func (r *Router) handleDeleteChat(s *Session, data json.RawMessage) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	if err := r.store.DeleteChat(req.RoomID, s.userID); err != nil {
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("delete chat")
		r.sendTo(s, EvtError, gin.H{"message": "failed to delete chat"})
		return
	}
	// 先广播再退订，让请求者本会话也收到删除通知。
	r.hub.Broadcast(req.RoomID, eventPayload(EvtChatDeleted, gin.H{"room_id": req.RoomID}))
	r.hub.Unsubscribe(s, req.RoomID)
}

func (r *Router) handleSaveCredential(s *Session, data json.RawMessage) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Key == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	if err := r.store.SaveAssistantKey(s.userID, req.Key); err != nil {
		log.Error().Err(err).Str("user_id", s.userID).Msg("save credential")
		r.sendTo(s, EvtError, gin.H{"message": "failed to save credential"})
		return
	}
	r.sendTo(s, EvtAck, gin.H{"event": EvtSaveCredential})
}

func (r *Router) handleAvatarUpdate(s *Session, data json.RawMessage) {
	var req struct {
		Avatar string `json:"avatar"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Avatar == "" {
		r.sendTo(s, EvtError, gin.H{"message": "invalid payload"})
		return
	}
	// 头像已由上传接口落库；任何打开的房间都可能正在展示它，所以全局广播。
	r.hub.BroadcastAll(eventPayload(EvtAvatarUpdated,
		gin.H{"user_id": s.userID, "avatar": req.Avatar}))
}

// resolveKind 在入站时一次性把客户端声明（枚举名或上传返回的 MIME）解析成封闭枚举。
func resolveKind(declared string) models.MessageKind {
	switch models.MessageKind(declared) {
	case models.KindText, models.KindImage, models.KindVideo, models.KindFile:
		return models.MessageKind(declared)
	}
	return models.KindFromMIME(declared)
}

func (r *Router) sendTo(s *Session, typ string, data interface{}) {
	s.trySend(eventPayload(typ, data))
}
