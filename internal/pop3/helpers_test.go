package pop3

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/maild/internal/mailstore"
)

// mockStore is an in-memory mailstore.Store.
type mockStore struct {
	mu        sync.Mutex
	mailboxes map[string][]mailstore.MessageInfo
	content   map[string]string // key -> content
	deleted   []string
	marked    []string

	existsErr   error
	listErr     error
	retrieveErr error
	deleteErr   error
	markErr     error
}

func newMockStore() *mockStore {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &mockStore{
		mailboxes: map[string][]mailstore.MessageInfo{
			"testuser": {
				{Key: "msg1", Size: 100, ModTime: base},
				{Key: "msg2", Size: 200, ModTime: base.Add(time.Minute)},
				{Key: "msg3", Size: 300, ModTime: base.Add(2 * time.Minute)},
			},
			"bob": {
				{Key: "b1", Size: 300, ModTime: base},
				{Key: "b2", Size: 500, ModTime: base.Add(time.Minute)},
			},
			"empty": {},
		},
		content: map[string]string{
			"msg1": "Subject: Test 1\r\n\r\nBody line 1\r\nBody line 2\r\n",
			"msg2": "Subject: Test 2\r\n\r\nBody of message 2\r\n",
			"msg3": "Subject: Test 3\r\nFrom: test@example.com\r\n\r\nLine 1\r\nLine 2\r\nLine 3\r\n",
			"b1":   "Subject: one\r\n\r\n.dotted\r\n",
			"b2":   "Subject: two\r\n\r\nhello\r\n",
		},
	}
}

func (m *mockStore) Exists(ctx context.Context, mailbox string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mailboxes[mailbox]
	return ok, nil
}

func (m *mockStore) List(ctx context.Context, mailbox string) ([]mailstore.MessageInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.mailboxes[mailbox]
	if !ok {
		return nil, mailstore.ErrMailboxNotFound
	}
	return append([]mailstore.MessageInfo(nil), msgs...), nil
}

func (m *mockStore) Retrieve(ctx context.Context, mailbox, key string) (io.ReadCloser, error) {
	if m.retrieveErr != nil {
		return nil, m.retrieveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.content[key]
	if !ok {
		return nil, mailstore.ErrMessageNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (m *mockStore) Delete(ctx context.Context, mailbox, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	msgs := m.mailboxes[mailbox]
	for i, msg := range msgs {
		if msg.Key == key {
			m.mailboxes[mailbox] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockStore) Append(ctx context.Context, mailbox string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "new" + time.Now().Format("150405.000000000")
	m.mailboxes[mailbox] = append(m.mailboxes[mailbox], mailstore.MessageInfo{Key: key, Size: int64(len(b)), ModTime: time.Now()})
	m.content[key] = string(b)
	return nil
}

func (m *mockStore) MarkRead(ctx context.Context, mailbox, key string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, key)
	msgs := m.mailboxes[mailbox]
	for i := range msgs {
		if msgs[i].Key == key {
			msgs[i].Read = true
		}
	}
	return nil
}

func (m *mockStore) deletedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *mockStore) markedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.marked...)
}

// mockAuth accepts a fixed password and serves fixed APOP secrets.
type mockAuth struct {
	passwords map[string]string
	secrets   map[string]string
	err       error
}

func newMockAuth() *mockAuth {
	return &mockAuth{
		passwords: map[string]string{"testuser": "secret", "bob": "bobpw", "empty": "pw"},
		secrets:   map[string]string{"testuser": "tanstaaf", "bob": "bobsecret"},
	}
}

func (a *mockAuth) Authenticate(ctx context.Context, username, credential string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	pw, ok := a.passwords[username]
	return ok && pw == credential, nil
}

func (a *mockAuth) Secret(ctx context.Context, username string) (string, bool, error) {
	if a.err != nil {
		return "", false, a.err
	}
	s, ok := a.secrets[username]
	return s, ok, nil
}

func (a *mockAuth) Close() error { return nil }

// mockConn satisfies ConnectionLogger.
type mockConn struct{}

func (mockConn) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// isLocked reports whether another session would be refused mailbox.
func isLocked(locker *mailstore.Locker, mailbox string) bool {
	unlock, ok := locker.TryLock(mailbox)
	if ok {
		unlock()
	}
	return !ok
}

// newAuthenticatedSession returns a session opened on mailbox.
func newAuthenticatedSession(store *mockStore, mailbox string) *Session {
	sess := NewSession("test.example.com", "<1.2@mailsystem>")
	if err := sess.Open(context.Background(), store, mailstore.NewLocker(), mailbox); err != nil {
		panic(err)
	}
	return sess
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
