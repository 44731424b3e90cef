package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User orgauth_user 表行。
type User struct {
	ID         int64
	UUID       string
	Name       string
	HashPwd    string
	Email      string
	Admin      bool
	Active     bool
	CreateDate int64
}

const userColumns = `id, uuid, name, hashwd, email, admin, active, createdate`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.UUID, &u.Name, &u.HashPwd, &u.Email, &u.Admin, &u.Active, &u.CreateDate); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser 创建用户, 返回内部 id。
func (c *Conn) CreateUser(ctx context.Context, name, hashPwd, email string) (int64, error) {
	var id int64
	err := c.queryRow(ctx, `
		INSERT INTO orgauth_user (uuid, name, hashwd, email, admin, active, createdate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, uuid.NewString(), strings.ToLower(name), hashPwd, email, false, true, time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, storeErr(err, "Store.CreateUser", "insert user")
	}
	return id, nil
}

// ReadUserByName 按用户名 (大小写不敏感) 读取用户。
func (c *Conn) ReadUserByName(ctx context.Context, name string) (*User, error) {
	u, err := scanUser(c.queryRow(ctx,
		`SELECT `+userColumns+` FROM orgauth_user WHERE name = ?`, strings.ToLower(name)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Store.ReadUserByName", "user "+name+" not found")
		}
		return nil, storeErr(err, "Store.ReadUserByName", "query user")
	}
	return u, nil
}

// ReadUserByID 按内部 id 读取用户。
func (c *Conn) ReadUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(c.queryRow(ctx,
		`SELECT `+userColumns+` FROM orgauth_user WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Store.ReadUserByID", "user not found")
		}
		return nil, storeErr(err, "Store.ReadUserByID", "query user")
	}
	return u, nil
}
