package service

import (
	"github.com/UjanGuin/ZYLO-LINK/internal/models"

	"gorm.io/gorm"
)

// Store 把三个服务聚合成消息路由器消费的持久化门面。
type Store struct {
	Users    *UserService
	Rooms    *RoomService
	Messages *MessageService
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Users:    NewUserService(db),
		Rooms:    NewRoomService(db),
		Messages: NewMessageService(db),
	}
}

func (s *Store) GetUser(id string) (*models.User, error) { return s.Users.Get(id) }

func (s *Store) CreateChat(requesterID, targetID string) (string, string, error) {
	return s.Rooms.CreateChat(requesterID, targetID)
}

func (s *Store) AddMember(roomID, requesterID, targetID string) (*models.Message, error) {
	return s.Rooms.AddMember(roomID, requesterID, targetID)
}

func (s *Store) ListChats(userID string) ([]ChatSummary, error) { return s.Rooms.ListChats(userID) }

func (s *Store) RoomUsers(roomID string) ([]Participant, error) { return s.Rooms.RoomUsers(roomID) }

func (s *Store) IsMember(roomID, userID string) (bool, error) {
	return s.Rooms.IsMember(roomID, userID)
}

func (s *Store) RenameChat(roomID, userID, newName string) error {
	return s.Rooms.RenameChat(roomID, userID, newName)
}

func (s *Store) DeleteChat(roomID, userID string) error { return s.Rooms.DeleteChat(roomID, userID) }

func (s *Store) SaveMessage(msg *models.Message) error { return s.Messages.Save(msg) }

func (s *Store) History(roomID string) ([]MessageDTO, error) { return s.Messages.History(roomID) }

func (s *Store) MarkRead(roomID, readerID string) (int64, error) {
	return s.Messages.MarkRead(roomID, readerID)
}

func (s *Store) SaveAssistantKey(userID, key string) error {
	return s.Users.SaveAssistantKey(userID, key)
}

func (s *Store) ChargeAssistantUse(userID string, freeLimit int) (bool, error) {
	return s.Users.ChargeAssistantUse(userID, freeLimit)
}
