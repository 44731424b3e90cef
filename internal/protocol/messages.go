// Package protocol 定义 UI ↔ 桥接层的请求/回复信封与载荷类型。
//
// 四个消息族:
//   - Private  (zimsg): 需登录, 由本地身份解析用户
//   - Public   (pimsg): 无需登录
//   - User     (uimsg): 登录 / 登出 / 注册
//   - Tauri    (timsg): 需要宿主能力 (文件选择) 的上传流程
//
// 每个 TimedData 回复携带 utcmillis (回复生成时刻, 时钟失败时为 0)。
package protocol

import (
	"encoding/json"
)

// ========================================
// Private (已登录) 消息
// ========================================

// PrivateRequest 私有请求种类。
type PrivateRequest string

const (
	PvqSaveZkNote    PrivateRequest = "SaveZkNote"
	PvqGetZkNote     PrivateRequest = "GetZkNote"
	PvqDeleteZkNote  PrivateRequest = "DeleteZkNote"
	PvqSearchZkNotes PrivateRequest = "SearchZkNotes"
	PvqGetJobStatus  PrivateRequest = "GetJobStatus"
)

// PrivateReply 私有回复种类。
type PrivateReply string

const (
	PvySavedZkNote      PrivateReply = "SavedZkNote"
	PvyZkNote           PrivateReply = "ZkNote"
	PvyDeletedZkNote    PrivateReply = "DeletedZkNote"
	PvyZkListNoteSearch PrivateReply = "ZkListNoteSearchResult"
	PvyJobStatus        PrivateReply = "JobStatus"
	PvyServerError      PrivateReply = "ServerError"
)

// PrivateMessage 私有请求信封。ClosureID 非空时原样回显到回复中。
type PrivateMessage struct {
	What      PrivateRequest  `json:"what"`
	Data      json.RawMessage `json:"data,omitempty"`
	ClosureID string          `json:"closure_id,omitempty"`
}

// PrivateReplyMessage 私有回复信封。
type PrivateReplyMessage struct {
	What      PrivateReply `json:"what"`
	Content   any          `json:"content"`
	ClosureID string       `json:"closure_id,omitempty"`
}

// PrivateTimedData 带时间戳的私有回复。
type PrivateTimedData struct {
	UTCMillis int64               `json:"utcmillis"`
	Data      PrivateReplyMessage `json:"data"`
}

// PrivateServerError 构造私有 ServerError 回复。
func PrivateServerError(msg string) PrivateReplyMessage {
	return PrivateReplyMessage{What: PvyServerError, Content: msg}
}

// ========================================
// Public (未登录) 消息
// ========================================

// PublicRequest 公开请求种类。
type PublicRequest string

const (
	PbrGetZkNote PublicRequest = "GetZkNote"
)

// PublicReply 公开回复种类。
type PublicReply string

const (
	PbyZkNote       PublicReply = "ZkNote"
	PbyNoteNotFound PublicReply = "NoteNotFound"
	PbyServerError  PublicReply = "ServerError"
)

// PublicMessage 公开请求信封。
type PublicMessage struct {
	What PublicRequest   `json:"what"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PublicReplyMessage 公开回复信封。
type PublicReplyMessage struct {
	What    PublicReply `json:"what"`
	Content any         `json:"content"`
}

// PublicTimedData 带时间戳的公开回复。
type PublicTimedData struct {
	UTCMillis int64              `json:"utcmillis"`
	Data      PublicReplyMessage `json:"data"`
}

// PublicServerError 构造公开 ServerError 回复。
func PublicServerError(msg string) PublicReplyMessage {
	return PublicReplyMessage{What: PbyServerError, Content: msg}
}

// ========================================
// User (账户) 消息
// ========================================

// UserRequest 账户请求种类。
type UserRequest string

const (
	UrqRegister      UserRequest = "Register"
	UrqLogin         UserRequest = "Login"
	UrqLogout        UserRequest = "Logout"
	UrqReadLoginData UserRequest = "ReadLoginData"
)

// UserResponse 账户回复种类。
type UserResponse string

const (
	UrpRegistrationClosed UserResponse = "RegistrationClosed"
	UrpUserExists         UserResponse = "UserExists"
	UrpLoggedIn           UserResponse = "LoggedIn"
	UrpLoggedOut          UserResponse = "LoggedOut"
	UrpInvalidUserOrPwd   UserResponse = "InvalidUserOrPwd"
	UrpLoginData          UserResponse = "LoginData"
	UrpNotLoggedIn        UserResponse = "NotLoggedIn"
	UrpServerError        UserResponse = "ServerError"
)

// UserRequestMessage 账户请求信封。
type UserRequestMessage struct {
	What UserRequest     `json:"what"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UserResponseMessage 账户回复信封。
type UserResponseMessage struct {
	What UserResponse `json:"what"`
	Data any          `json:"data,omitempty"`
}

// UserServerError 构造账户 ServerError 回复。
func UserServerError(msg string) UserResponseMessage {
	return UserResponseMessage{What: UrpServerError, Data: msg}
}

// Login 登录载荷。
type Login struct {
	UserID   string `json:"userid"`
	Password string `json:"pwd"`
}

// Registration 注册载荷。
type Registration struct {
	UserID   string `json:"uid"`
	Password string `json:"pwd"`
	Email    string `json:"email"`
}

// LoginData 登录档案: 用户基本信息 + 协作方注入的扩展数据。
type LoginData struct {
	UserID int64           `json:"userid"`
	UUID   string          `json:"uuid"`
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Admin  bool            `json:"admin"`
	Active bool            `json:"active"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ========================================
// Tauri (宿主能力) 消息
// ========================================

// TauriRequestKind 宿主请求种类。
type TauriRequestKind string

const (
	TrqUploadFiles TauriRequestKind = "UploadFiles"
)

// TauriReplyKind 宿主回复种类。
type TauriReplyKind string

const (
	TyFilesUploaded TauriReplyKind = "FilesUploaded"
	TyServerError   TauriReplyKind = "ServerError"
)

// TauriRequest 宿主请求信封。
type TauriRequest struct {
	What      TauriRequestKind `json:"what"`
	ClosureID string           `json:"closure_id,omitempty"`
}

// TauriReply 宿主回复信封。
type TauriReply struct {
	What      TauriReplyKind `json:"what"`
	Data      any            `json:"data"`
	ClosureID string         `json:"closure_id,omitempty"`
}

// UploadedFiles FilesUploaded 的载荷。
type UploadedFiles struct {
	Notes []ZkListNote `json:"notes"`
}
