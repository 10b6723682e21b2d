package service

import (
	"crypto/rand"
	"errors"

	"github.com/UjanGuin/ZYLO-LINK/internal/auth"
	"github.com/UjanGuin/ZYLO-LINK/internal/models"

	"gorm.io/gorm"
)

const idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewUserID 生成 10 位大写字母数字的用户码，用户间靠它互相定位。
func NewUserID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = idCharset[int(b[i])%len(idCharset)]
	}
	return string(b), nil
}

// UserService 封装用户目录：认证即注册、头像、助手配额与外部凭证。
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Authenticate 实现"认证即注册"：同名且口令匹配则登录为已有账号，
// 否则生成新 ID 建新账号。同名不同口令会各自成为独立用户。
func (s *UserService) Authenticate(name, secret string) (*models.User, error) {
	var candidates []models.User
	if err := s.db.Where("name = ?", name).Order("created_at asc").Find(&candidates).Error; err != nil {
		return nil, err
	}
	for i := range candidates {
		if auth.VerifyPassword(candidates[i].CredentialHash, secret) {
			return &candidates[i], nil
		}
	}

	hash, err := auth.HashPassword(secret)
	if err != nil {
		return nil, err
	}
	// ID 碰撞概率极低，但主键冲突时重试一次。
	for attempt := 0; attempt < 2; attempt++ {
		id, err := NewUserID()
		if err != nil {
			return nil, err
		}
		user := models.User{ID: id, Name: name, CredentialHash: hash}
		if err := s.db.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return nil, err
		}
		return &user, nil
	}
	return nil, errors.New("user id collision")
}

// Get 按 ID 查找用户，不存在时返回 ErrNotFound。
func (s *UserService) Get(id string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SetAvatar 更新头像引用。
func (s *UserService) SetAvatar(userID, url string) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).Update("avatar_url", url).Error
}

// SaveAssistantKey 保存用户自带的助手外部凭证。
func (s *UserService) SaveAssistantKey(userID, key string) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).Update("assistant_key", key).Error
}

// ChargeAssistantUse 原子地推进配额：没有自带凭证且已达免费额度时拒绝，
// 返回 false。闸门和 +1 在同一条条件更新里完成，并发提及不会把免费额度
// 刷穿；计数必须在发起外部调用之前落库，调用失败也不退还。
func (s *UserService) ChargeAssistantUse(userID string, freeLimit int) (bool, error) {
	res := s.db.Model(&models.User{}).
		Where("id = ? AND (assistant_key <> '' OR assistant_uses < ?)", userID, freeLimit).
		UpdateColumn("assistant_uses", gorm.Expr("assistant_uses + 1"))
	return res.RowsAffected > 0, res.Error
}
