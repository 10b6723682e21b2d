package service

import (
	"time"

	"github.com/UjanGuin/ZYLO-LINK/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息日志：追加、按序回放、投递状态推进。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据，Time 为短显示时间，Timestamp 保留原始值。
type MessageDTO struct {
	ID        uint               `json:"id"`
	RoomID    string             `json:"room_id"`
	SenderID  string             `json:"sender_id"`
	Kind      models.MessageKind `json:"type"`
	Content   string             `json:"content"`
	Filename  string             `json:"filename,omitempty"`
	Time      string             `json:"time"`
	Timestamp string             `json:"timestamp"`
	Status    string             `json:"status"`
}

// ToDTO 把消息行转成外发格式；显示时间无法格式化时退回原始串。
func ToDTO(m *models.Message) MessageDTO {
	display := m.CreatedAt.Format("15:04")
	raw := m.CreatedAt.Format(time.RFC3339)
	if m.CreatedAt.IsZero() {
		display = raw
	}
	return MessageDTO{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Kind:      m.Kind,
		Content:   m.Content,
		Filename:  m.Filename,
		Time:      display,
		Timestamp: raw,
		Status:    m.Status,
	}
}

// Save 追加一条消息；自增主键即房间内的序列号。
func (s *MessageService) Save(msg *models.Message) error {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	return s.db.Create(msg).Error
}

// History 按序列号升序返回房间全部消息。
func (s *MessageService) History(roomID string) ([]MessageDTO, error) {
	var msgs []models.Message
	if err := s.db.Where("room_id = ?", roomID).Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, ToDTO(&msgs[i]))
	}
	return out, nil
}

// MarkRead 把房间内其他发送者的未读消息推进为已读，返回受影响行数。
// 状态只会 sent -> read，重复调用是无副作用的。
func (s *MessageService) MarkRead(roomID, readerID string) (int64, error) {
	res := s.db.Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND status = ?", roomID, readerID, models.StatusSent).
		Update("status", models.StatusRead)
	return res.RowsAffected, res.Error
}
