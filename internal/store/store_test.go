package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
)

// openTestConn 在临时目录打开一个全新的 SQLite 记录存储。
func openTestConn(t *testing.T) (*Conn, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "zknotes.db")
	conn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(CloseAll)
	return conn, cfg
}

func TestOpenReusesConnection(t *testing.T) {
	conn, cfg := openTestConn(t)
	again, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.Same(t, conn, again)
}

// TestOpenConcurrentFirstOpen 并发首次打开同一 DSN 只得到一个连接池。
func TestOpenConcurrentFirstOpen(t *testing.T) {
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "zknotes.db")
	t.Cleanup(CloseAll)

	const n = 8
	got := make([]*Conn, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Open(context.Background(), cfg)
			if err == nil {
				got[i] = c
			}
		}()
	}
	wg.Wait()
	for i := range n {
		require.NotNil(t, got[i])
		require.Same(t, got[0], got[i])
	}
}

// TestOpenIgnoresCallerCancel 已取消的调用方上下文不影响首次打开与迁移。
func TestOpenIgnoresCallerCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "zknotes.db")
	t.Cleanup(CloseAll)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, conn.DB())
}

func TestDBInitStableServerIdentity(t *testing.T) {
	_, cfg := openTestConn(t)
	ctx := context.Background()

	first, err := DBInit(ctx, cfg)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	_, err = uuid.Parse(first.UUID)
	require.NoError(t, err)

	second, err := DBInit(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSingleValueOverwrite(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	_, ok, err := conn.GetSingleValue(ctx, "last_login")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, conn.SetSingleValue(ctx, "last_login", "7"))
	require.NoError(t, conn.SetSingleValue(ctx, "last_login", "9"))

	v, ok, err := conn.GetSingleValue(ctx, "last_login")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "9", v)
}

func TestUsers(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	id, err := conn.CreateUser(ctx, "Alice", "hash", "alice@example.com")
	require.NoError(t, err)

	u, err := conn.ReadUserByName(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.True(t, u.Active)
	require.False(t, u.Admin)

	_, err = conn.ReadUserByID(ctx, id+100)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNoteLifecycleAndAuthorization(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	owner, err := conn.CreateUser(ctx, "owner", "h", "")
	require.NoError(t, err)
	other, err := conn.CreateUser(ctx, "other", "h", "")
	require.NoError(t, err)

	saved, err := conn.SaveNote(ctx, owner, protocol.SaveZkNote{Title: "first", Content: "hello world"})
	require.NoError(t, err)

	note, err := conn.ReadNote(ctx, owner, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "first", note.Title)
	require.Equal(t, "owner", note.UserName)

	_, err = conn.ReadNote(ctx, other, saved.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = conn.ReadNote(ctx, Anonymous, saved.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = conn.SaveNote(ctx, owner, protocol.SaveZkNote{ID: saved.ID, Title: "first", Content: "now public", Public: true})
	require.NoError(t, err)
	note, err = conn.ReadNote(ctx, Anonymous, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "now public", note.Content)

	_, err = conn.SaveNote(ctx, other, protocol.SaveZkNote{ID: saved.ID, Title: "hijack"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	found, err := conn.SearchNotes(ctx, owner, protocol.ZkNoteSearch{Query: "PUBLIC"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	none, err := conn.SearchNotes(ctx, owner, protocol.ZkNoteSearch{Query: "100%"})
	require.NoError(t, err)
	require.Empty(t, none)

	n, err := conn.CountNotes(ctx, owner)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, conn.DeleteNote(ctx, owner, saved.ID))
	require.ErrorIs(t, conn.DeleteNote(ctx, owner, saved.ID), apperrors.ErrNotFound)
}

func TestFileNoteResolution(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	uid, err := conn.CreateUser(ctx, "filer", "h", "")
	require.NoError(t, err)

	ln, err := conn.CreateFileNote(ctx, uid, "photo.png", "abc123", 42)
	require.NoError(t, err)
	require.True(t, ln.IsFile)

	// 相同哈希复用 file 行
	dup, err := conn.CreateFileNote(ctx, uid, "copy.png", "abc123", 42)
	require.NoError(t, err)
	require.NotEqual(t, ln.ID, dup.ID)

	nid, err := conn.NoteIDForUUID(ctx, uuid.MustParse(ln.ID))
	require.NoError(t, err)

	hash, ok, err := conn.ReadNoteFileHash(ctx, uid, nid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", hash)

	listNote, err := conn.ReadListNote(ctx, uid, nid)
	require.NoError(t, err)
	require.Equal(t, "photo.png", listNote.Title)

	_, _, err = conn.ReadNoteFileHash(ctx, Anonymous, nid)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	plain, err := conn.SaveNote(ctx, uid, protocol.SaveZkNote{Title: "text"})
	require.NoError(t, err)
	plainID, err := conn.NoteIDForUUID(ctx, uuid.MustParse(plain.ID))
	require.NoError(t, err)
	_, ok, err = conn.ReadNoteFileHash(ctx, uid, plainID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = conn.NoteIDForUUID(ctx, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTokens(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	uid, err := conn.CreateUser(ctx, "net", "h", "")
	require.NoError(t, err)

	tok, err := conn.CreateToken(ctx, uid)
	require.NoError(t, err)

	got, err := conn.UserIDForToken(ctx, tok, 60_000)
	require.NoError(t, err)
	require.Equal(t, uid, got)

	_, err = conn.UserIDForToken(ctx, "nope", 60_000)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.NoError(t, conn.DeleteToken(ctx, tok))
	_, err = conn.UserIDForToken(ctx, tok, 60_000)
	require.Error(t, err)
}
