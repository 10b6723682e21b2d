package ws

import "encoding/json"

// 双向统一信封：{"type": "...", "data": {...}}。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// 入站事件类型。
const (
	EvtLogin          = "login"
	EvtCreateChat     = "create_chat"
	EvtAddMember      = "add_member"
	EvtGetChats       = "get_chats"
	EvtJoinRoom       = "join_room"
	EvtSendMessage    = "send_message"
	EvtMarkRead       = "mark_read"
	EvtRenameChat     = "rename_chat"
	EvtDeleteChat     = "delete_chat"
	EvtSaveCredential = "save_credential"
	EvtAvatarUpdate   = "avatar_update"
)

// 出站事件类型。
const (
	EvtChatList      = "chat_list"
	EvtChatCreated   = "chat_created"
	EvtChatAdded     = "chat_added"
	EvtChatDeleted   = "chat_deleted"
	EvtHistory       = "history"
	EvtMessage       = "message"
	EvtMessagesRead  = "messages_read"
	EvtRoomUsers     = "room_users"
	EvtAvatarUpdated = "user_avatar_updated"
	EvtLimitReached  = "limit_reached"
	EvtError         = "error"
	EvtAck           = "ack"
)

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	return env, nil
}

// eventPayload 组装一条出站事件；data 序列化失败只可能是编程错误，
// 此时返回的字节仍是合法信封（data 为 null）。
func eventPayload(typ string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	b, _ := json.Marshal(Envelope{Type: typ, Data: raw})
	return b
}
