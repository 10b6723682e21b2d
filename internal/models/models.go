package models

import (
	"strings"
	"time"
)

// 保留的发送者标识：系统通知与助手回复走同一条消息流。
const (
	SenderSystem    = "SYSTEM"
	SenderAssistant = "ASSISTANT"
)

// MessageKind 是封闭的消息类型枚举，入库前一次性解析，渲染端不再重新推断。
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// KindFromMIME 根据上传时探测到的 MIME 类型归类。
func KindFromMIME(mime string) MessageKind {
	switch {
	case mime == "" || strings.HasPrefix(mime, "text/"):
		return KindText
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}

// 投递状态只允许 sent -> read 单向推进。
const (
	StatusSent = "sent"
	StatusRead = "read"
)

type User struct {
	ID             string `gorm:"primaryKey;size:10"`
	Name           string `gorm:"size:64;not null"`
	CredentialHash string `gorm:"not null"`
	AvatarURL      string `gorm:"size:512"`
	AssistantUses  int    `gorm:"not null;default:0"`
	AssistantKey   string `gorm:"size:256"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Membership 是 (房间, 用户) 的成员行，ChatName 是该用户私有的会话显示名。
type Membership struct {
	RoomID    string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:10"`
	ChatName  string `gorm:"size:128;not null"`
	CreatedAt time.Time
}

// Message 的自增 ID 同时充当房间内序列号，写入后除 Status 外不可变。
type Message struct {
	ID        uint        `gorm:"primaryKey"`
	RoomID    string      `gorm:"index:idx_msg_room;size:64;not null"`
	SenderID  string      `gorm:"size:10;not null"`
	Kind      MessageKind `gorm:"size:16;not null"`
	Content   string      `gorm:"type:text;not null"`
	Filename  string      `gorm:"size:256"`
	Status    string      `gorm:"size:8;not null;default:sent"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index;size:10;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
