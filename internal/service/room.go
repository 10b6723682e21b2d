package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/UjanGuin/ZYLO-LINK/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PairRoomID 为两人会话生成与参数顺序无关的确定性房间号，
// 同一对用户重复创建永远落在同一个房间。
func PairRoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// RoomService 封装房间与成员关系：创建、扩员、改名、退出。
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// ChatSummary 是会话列表里的一项，OtherAvatar 取任一其他成员的头像。
type ChatSummary struct {
	RoomID      string `json:"room_id"`
	ChatName    string `json:"chat_name"`
	OtherAvatar string `json:"other_avatar"`
}

// Participant 是房间成员花名册中的一员，供客户端解析提及引用。
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// CreateChat 创建或复用两人房间。目标用户不存在时返回 ErrNotFound；
// 成员行用 ON CONFLICT DO NOTHING 幂等插入，重复创建不会产生重复行。
func (s *RoomService) CreateChat(requesterID, targetID string) (roomID, chatName string, err error) {
	var target models.User
	if err := s.db.First(&target, "id = ?", targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}

	requesterName := "Unknown"
	var requester models.User
	if err := s.db.First(&requester, "id = ?", requesterID).Error; err == nil {
		requesterName = requester.Name
	}

	roomID = PairRoomID(requesterID, targetID)
	rows := []models.Membership{
		{RoomID: roomID, UserID: requesterID, ChatName: target.Name},
		{RoomID: roomID, UserID: targetID, ChatName: requesterName},
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return "", "", err
	}
	return roomID, target.Name, nil
}

// AddMember 把目标用户加入既有房间并写入一条系统消息，全部在一个事务内：
// 校验失败时不落任何行。新成员自己的会话名沿用通用的 "Group Chat"。
func (s *RoomService) AddMember(roomID, requesterID, targetID string) (*models.Message, error) {
	var sysMsg models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.First(&target, "id = ?", targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var requester models.User
		if err := tx.First(&requester, "id = ?", requesterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var count int64
		if err := tx.Model(&models.Membership{}).
			Where("room_id = ? AND user_id = ?", roomID, targetID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyMember
		}

		row := models.Membership{RoomID: roomID, UserID: targetID, ChatName: "Group Chat"}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		sysMsg = models.Message{
			RoomID:   roomID,
			SenderID: models.SenderSystem,
			Kind:     models.KindSystem,
			Content:  fmt.Sprintf("%s added %s", requester.Name, target.Name),
			Status:   models.StatusSent,
		}
		return tx.Create(&sysMsg).Error
	})
	if err != nil {
		return nil, err
	}
	return &sysMsg, nil
}

// ListChats 返回用户可见的会话列表，附带任一其他成员的头像。
func (s *RoomService) ListChats(userID string) ([]ChatSummary, error) {
	out := make([]ChatSummary, 0)
	err := s.db.Raw(`
		SELECT cp.room_id, cp.chat_name,
		       COALESCE((SELECT u.avatar_url FROM memberships cp2
		                 JOIN users u ON cp2.user_id = u.id
		                 WHERE cp2.room_id = cp.room_id AND cp2.user_id <> ?
		                 LIMIT 1), '') AS other_avatar
		FROM memberships cp
		WHERE cp.user_id = ?
		ORDER BY cp.created_at ASC`, userID, userID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RoomUsers 返回房间成员花名册。
func (s *RoomService) RoomUsers(roomID string) ([]Participant, error) {
	out := make([]Participant, 0)
	err := s.db.Raw(`
		SELECT u.id AS user_id, u.name, COALESCE(u.avatar_url, '') AS avatar
		FROM memberships m JOIN users u ON m.user_id = u.id
		WHERE m.room_id = ?
		ORDER BY m.created_at ASC`, roomID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsMember 判断用户当前是否在房间内。
func (s *RoomService) IsMember(roomID, userID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).Count(&count).Error
	return count > 0, err
}

// RenameChat 只改请求者自己的会话名；没有匹配行时静默返回。
func (s *RoomService) RenameChat(roomID, userID, newName string) error {
	return s.db.Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("chat_name", newName).Error
}

// DeleteChat 只删请求者自己的成员行，消息与其他成员不受影响。
func (s *RoomService) DeleteChat(roomID, userID string) error {
	return s.db.Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.Membership{}).Error
}
