// Package notes 默认业务逻辑协作方: 笔记读写、账户管理、文件笔记。
//
// Service 实现桥接层与监听器共同依赖的四类操作:
//   - Private: 已登录用户的笔记操作
//   - Public:  公开笔记读取
//   - User:    注册 / 登录 / 登出 / 读取登录档案
//   - MakeFileNote: 将本地文件按内容哈希存入文件目录并创建文件笔记
package notes

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// Service 默认业务逻辑。无状态, 并发安全。
type Service struct {
	// BcryptCost 密码哈希成本, 0 表示 bcrypt.DefaultCost
	BcryptCost int
}

// New 创建默认业务逻辑。
func New() *Service { return &Service{} }

func (s *Service) cost() int {
	if s.BcryptCost == 0 {
		return bcrypt.DefaultCost
	}
	return s.BcryptCost
}

// ========================================
// Private
// ========================================

// Private 处理已登录用户的请求。
func (s *Service) Private(ctx context.Context, v state.View, conn *store.Conn, uid int64, msg protocol.PrivateMessage) (protocol.PrivateReplyMessage, error) {
	switch msg.What {
	case protocol.PvqSaveZkNote:
		var req protocol.SaveZkNote
		if err := decode(msg.Data, &req, "Notes.SaveZkNote"); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		saved, err := conn.SaveNote(ctx, uid, req)
		if err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		return protocol.PrivateReplyMessage{What: protocol.PvySavedZkNote, Content: saved}, nil

	case protocol.PvqGetZkNote:
		var req protocol.ZkNoteID
		if err := decode(msg.Data, &req, "Notes.GetZkNote"); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		note, err := conn.ReadNote(ctx, uid, req.ID)
		if err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		return protocol.PrivateReplyMessage{What: protocol.PvyZkNote, Content: note}, nil

	case protocol.PvqDeleteZkNote:
		var req protocol.ZkNoteID
		if err := decode(msg.Data, &req, "Notes.DeleteZkNote"); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		if err := conn.DeleteNote(ctx, uid, req.ID); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		return protocol.PrivateReplyMessage{What: protocol.PvyDeletedZkNote, Content: req}, nil

	case protocol.PvqSearchZkNotes:
		var req protocol.ZkNoteSearch
		if err := decode(msg.Data, &req, "Notes.SearchZkNotes"); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		found, err := conn.SearchNotes(ctx, uid, req)
		if err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		return protocol.PrivateReplyMessage{What: protocol.PvyZkListNoteSearch, Content: found}, nil

	case protocol.PvqGetJobStatus:
		var req protocol.JobID
		if err := decode(msg.Data, &req, "Notes.GetJobStatus"); err != nil {
			return protocol.PrivateReplyMessage{}, err
		}
		job, ok := v.Jobs.Get(req.ID)
		if !ok {
			return protocol.PrivateReplyMessage{}, apperrors.Coded(apperrors.ErrNotFound, apperrors.CodeNotFound,
				"Notes.GetJobStatus", fmt.Sprintf("job %d not found", req.ID), nil)
		}
		return protocol.PrivateReplyMessage{What: protocol.PvyJobStatus, Content: job.Status()}, nil
	}
	return protocol.PrivateReplyMessage{}, unknownRequest("Notes.Private", string(msg.What))
}

// ========================================
// Public
// ========================================

// Public 处理无需登录的请求。
func (s *Service) Public(ctx context.Context, _ state.View, conn *store.Conn, msg protocol.PublicMessage) (protocol.PublicReplyMessage, error) {
	switch msg.What {
	case protocol.PbrGetZkNote:
		var req protocol.ZkNoteID
		if err := decode(msg.Data, &req, "Notes.PublicGetZkNote"); err != nil {
			return protocol.PublicReplyMessage{}, err
		}
		note, err := conn.ReadNote(ctx, store.Anonymous, req.ID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return protocol.PublicReplyMessage{What: protocol.PbyNoteNotFound, Content: req}, nil
		}
		if err != nil {
			return protocol.PublicReplyMessage{}, err
		}
		return protocol.PublicReplyMessage{What: protocol.PbyZkNote, Content: note}, nil
	}
	return protocol.PublicReplyMessage{}, unknownRequest("Notes.Public", string(msg.What))
}

// ========================================
// User
// ========================================

// User 处理账户请求。登录成功返回 LoggedIn + LoginData, 由调用方负责持久化身份。
func (s *Service) User(ctx context.Context, v state.View, conn *store.Conn, session identity.Session, msg protocol.UserRequestMessage) (protocol.UserResponseMessage, error) {
	switch msg.What {
	case protocol.UrqRegister:
		var req protocol.Registration
		if err := decode(msg.Data, &req, "Notes.Register"); err != nil {
			return protocol.UserResponseMessage{}, err
		}
		return s.register(ctx, v, conn, req)

	case protocol.UrqLogin:
		var req protocol.Login
		if err := decode(msg.Data, &req, "Notes.Login"); err != nil {
			return protocol.UserResponseMessage{}, err
		}
		return s.login(ctx, conn, req)

	case protocol.UrqLogout:
		return protocol.UserResponseMessage{What: protocol.UrpLoggedOut}, nil

	case protocol.UrqReadLoginData:
		if !session.LoggedIn || session.Profile == nil {
			return protocol.UserResponseMessage{What: protocol.UrpNotLoggedIn}, nil
		}
		return protocol.UserResponseMessage{What: protocol.UrpLoginData, Data: session.Profile}, nil
	}
	return protocol.UserResponseMessage{}, unknownRequest("Notes.User", string(msg.What))
}

func (s *Service) register(ctx context.Context, v state.View, conn *store.Conn, req protocol.Registration) (protocol.UserResponseMessage, error) {
	if !v.Config.OpenRegistration {
		return protocol.UserResponseMessage{What: protocol.UrpRegistrationClosed}, nil
	}
	if req.UserID == "" || req.Password == "" {
		return protocol.UserResponseMessage{}, apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput,
			"Notes.Register", "user name and password are required", nil)
	}

	_, err := conn.ReadUserByName(ctx, req.UserID)
	switch {
	case err == nil:
		return protocol.UserResponseMessage{What: protocol.UrpUserExists}, nil
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return protocol.UserResponseMessage{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost())
	if err != nil {
		return protocol.UserResponseMessage{}, apperrors.Wrap(err, "Notes.Register", "hash password")
	}
	uid, err := conn.CreateUser(ctx, req.UserID, string(hash), req.Email)
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}
	logger.Info("user registered", logger.FieldUserID, uid, logger.FieldName, req.UserID)

	ld, err := identity.GetLoginProfile(ctx, conn, uid, s)
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}
	return protocol.UserResponseMessage{What: protocol.UrpLoggedIn, Data: ld}, nil
}

func (s *Service) login(ctx context.Context, conn *store.Conn, req protocol.Login) (protocol.UserResponseMessage, error) {
	u, err := conn.ReadUserByName(ctx, req.UserID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return protocol.UserResponseMessage{What: protocol.UrpInvalidUserOrPwd}, nil
	}
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}
	if !u.Active || bcrypt.CompareHashAndPassword([]byte(u.HashPwd), []byte(req.Password)) != nil {
		return protocol.UserResponseMessage{What: protocol.UrpInvalidUserOrPwd}, nil
	}

	ld, err := identity.GetLoginProfile(ctx, conn, u.ID, s)
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}
	return protocol.UserResponseMessage{What: protocol.UrpLoggedIn, Data: ld}, nil
}

// extraData 登录档案中的扩展数据。
type extraData struct {
	NoteCount int64  `json:"notecount"`
	Server    string `json:"server"`
}

// ExtraLoginData 实现 identity.ExtraLoginData: 用户笔记数 + 服务实例 UUID。
func (s *Service) ExtraLoginData(ctx context.Context, conn *store.Conn, uid identity.UserID) (json.RawMessage, error) {
	n, err := conn.CountNotes(ctx, uid)
	if err != nil {
		return nil, err
	}
	srv, err := conn.ReadServer(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(extraData{NoteCount: n, Server: srv.UUID})
}

// ========================================
// helpers
// ========================================

func decode(data json.RawMessage, dst any, op string) error {
	if len(data) == 0 {
		return apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, op, "missing request data", nil)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, op, "decode request data", err)
	}
	return nil
}

func unknownRequest(op, what string) error {
	return apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, op,
		fmt.Sprintf("unknown request %q", what), nil)
}
