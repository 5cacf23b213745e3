package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/infodancer/maild/internal/mailstore"
)

// memStore is an in-memory mailstore.Store that records deliveries.
type memStore struct {
	mu        sync.Mutex
	delivered map[string][]string
	failFor   map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		delivered: make(map[string][]string),
		failFor:   make(map[string]bool),
	}
}

func (m *memStore) Exists(ctx context.Context, mailbox string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[mailbox]
	return ok, nil
}

func (m *memStore) List(ctx context.Context, mailbox string) ([]mailstore.MessageInfo, error) {
	return nil, mailstore.ErrMailboxNotFound
}

func (m *memStore) Retrieve(ctx context.Context, mailbox, key string) (io.ReadCloser, error) {
	return nil, mailstore.ErrMessageNotFound
}

func (m *memStore) Delete(ctx context.Context, mailbox, key string) error {
	return mailstore.ErrMessageNotFound
}

func (m *memStore) MarkRead(ctx context.Context, mailbox, key string) error {
	return mailstore.ErrMessageNotFound
}

func (m *memStore) Append(ctx context.Context, mailbox string, data io.Reader) error {
	if m.failFor[mailbox] {
		return errors.New("disk full")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[mailbox] = append(m.delivered[mailbox], string(b))
	return nil
}

func (m *memStore) messages(mailbox string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[mailbox]
}

// stubAuth accepts the users in passwords. err, when set, is returned
// from every call.
type stubAuth struct {
	passwords map[string]string
	err       error
	calls     int
}

func newStubAuth() *stubAuth {
	return &stubAuth{passwords: map[string]string{
		"alice@example.com": "wonderland",
		"bob":               "bobpw",
	}}
}

func (s *stubAuth) Authenticate(ctx context.Context, username, credential string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	pw, ok := s.passwords[username]
	return ok && pw == credential, nil
}

// scriptConn feeds queued lines to ReadLine and records everything written.
type scriptConn struct {
	input   []string
	written []string
	readErr error
}

func newScriptConn(lines ...string) *scriptConn {
	return &scriptConn{input: lines}
}

func (c *scriptConn) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *scriptConn) ReadLine() (string, error) {
	if len(c.input) == 0 {
		if c.readErr != nil {
			return "", c.readErr
		}
		return "", io.EOF
	}
	line := c.input[0]
	c.input = c.input[1:]
	return line, nil
}

func (c *scriptConn) WriteLine(s string) error {
	c.written = append(c.written, s)
	return nil
}

// greetedSession returns a session past EHLO.
func greetedSession(limits Limits) *Session {
	sess := NewSession("mx.example.com", limits)
	sess.Greet("client.example.com", true)
	return sess
}

func defaultLimits() Limits {
	return Limits{MaxMessageSize: 1024, MaxRecipients: 3, RequireAuth: false}
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}
