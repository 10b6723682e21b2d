package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/UjanGuin/ZYLO-LINK/internal/auth"
	"github.com/UjanGuin/ZYLO-LINK/internal/blob"
	"github.com/UjanGuin/ZYLO-LINK/internal/config"
	"github.com/UjanGuin/ZYLO-LINK/internal/service"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// 单文件上限 100MB，与消息体上限解耦。
const maxUploadBytes = 100 << 20

// Handler 聚合 HTTP 侧的协作者接口：认证、对象存储、头像。
type Handler struct {
	cfg     config.Config
	db      *gorm.DB
	userSvc *service.UserService
	blobs   blob.Store
}

func NewHandler(cfg config.Config, db *gorm.DB, userSvc *service.UserService, blobs blob.Store) *Handler {
	return &Handler{cfg: cfg, db: db, userSvc: userSvc, blobs: blobs}
}

// Authenticate 实现"认证即注册"入口，返回身份三元组与 token 对。
func (h *Handler) Authenticate(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Pass string `json:"pass"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Pass == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	if len(req.Name) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid name"})
		return
	}
	user, err := h.userSvc.Authenticate(req.Name, req.Pass)
	if err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("authenticate")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "auth failed"})
		return
	}
	at, err := auth.GenerateAccessToken(user.ID, h.cfg.JWTSecret, h.cfg.AccessTokenTTLMinutes)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("generate access token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "auth failed"})
		return
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("generate refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "auth failed"})
		return
	}
	exp := time.Now().Add(time.Duration(h.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(h.db, user.ID, rt, exp); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("save refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "auth failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  at,
		"refresh_token": rt,
		"user":          gin.H{"id": user.ID, "name": user.Name, "avatar": user.AvatarURL},
	})
}

// RefreshToken 旋转刷新：旧 refresh token 作废，签发新 token 对。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var (
		accessToken  string
		refreshToken string
	)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, req.RefreshToken)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, req.RefreshToken); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, h.cfg.JWTSecret, h.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(h.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		accessToken = at
		refreshToken = newRT
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": accessToken, "refresh_token": refreshToken})
}

// Upload 接收附件，嗅探真实 MIME 类型后写入对象存储，
// 返回的 type 由发送端原样带回 send_message，入库时解析成消息类型。
func (h *Handler) Upload(c *gin.Context) {
	data, filename, ok := h.readUpload(c)
	if !ok {
		return
	}
	mime := mimetype.Detect(data)
	key, err := h.blobs.Put(c.Request.Context(), filename, mime.String(),
		bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("upload blob")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": "/uploads/" + key, "type": mime.String()})
}

// UploadAvatar 存新头像并更新用户行；全局的变更广播由客户端随后经 WS 发起。
func (h *Handler) UploadAvatar(c *gin.Context) {
	userID := auth.GetUserID(c)
	data, filename, ok := h.readUpload(c)
	if !ok {
		return
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar must be an image"})
		return
	}
	key, err := h.blobs.Put(c.Request.Context(), filename, mime.String(),
		bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("upload avatar blob")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	url := "/uploads/" + key
	if err := h.userSvc.SetAvatar(userID, url); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("set avatar")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ServeUpload 按引用回源对象存储并透传字节。
func (h *Handler) ServeUpload(c *gin.Context) {
	name := c.Param("name")
	if name == "" || strings.ContainsAny(name, "/\\") {
		c.Status(http.StatusNotFound)
		return
	}
	rc, contentType, err := h.blobs.Get(c.Request.Context(), name)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer rc.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (h *Handler) readUpload(c *gin.Context) ([]byte, string, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file"})
		return nil, "", false
	}
	if fh.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, "", false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil || len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, "", false
	}
	return data, fh.Filename, true
}
