// Package smtp_test contains round-trip tests for the SMTP server.
//
// These tests wire the full stack (SQLite auth, maildir message store and
// the SMTP protocol handler) and drive it over real TCP connections.
package smtp_test

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/smtp"
)

const (
	alice         = "alice@example.com"
	alicePassword = "wonderland"
)

type testEnv struct {
	addr  string
	store *mailstore.Maildir
}

type envOptions struct {
	requireAuth bool
	maxSize     int64
	workers     int
}

// newTestEnv starts an SMTP listener on a random localhost port backed by
// a SQLite user database and a maildir.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	dir := t.TempDir()

	users, err := auth.OpenSQLite(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })
	require.NoError(t, users.AddUser(context.Background(), alice, alicePassword, ""))

	store, err := mailstore.NewMaildir(filepath.Join(dir, "mail"))
	require.NoError(t, err)

	if opts.maxSize == 0 {
		opts.maxSize = 4096
	}
	if opts.workers == 0 {
		opts.workers = 4
	}

	handler := smtp.Handler(smtp.Config{
		Hostname: "mx.test",
		Limits: smtp.Limits{
			MaxMessageSize: opts.maxSize,
			MaxRecipients:  10,
			RequireAuth:    opts.requireAuth,
		},
		Store:     store,
		Auth:      users,
		Collector: &metrics.NoopCollector{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := server.NewListener(server.ListenerConfig{
		Protocol:       metrics.ProtocolSMTP,
		IdleTimeout:    5 * time.Second,
		CommandTimeout: 5 * time.Second,
		DrainTimeout:   time.Second,
		Logger:         logging.NewLogger("error"),
		Handler:        handler,
		Pool:           server.NewWorkerPool(opts.workers),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{addr: ln.Addr().String(), store: store}
}

func dial(t *testing.T, addr string) (*textproto.Conn, net.Conn) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(10 * time.Second))
	return textproto.NewConn(nc), nc
}

func readCodeLine(t testing.TB, conn *textproto.Conn, code int) string {
	t.Helper()
	_, message, err := conn.ReadCodeLine(code)
	require.NoError(t, err)
	return message
}

type requestResponse struct {
	request      string
	responseCode int
	handler      func(testing.TB, *textproto.Conn)
}

func runTableTest(t testing.TB, conn *textproto.Conn, seq []requestResponse) {
	t.Helper()
	for i, rr := range seq {
		t.Logf("case %d: %s", i, rr.request)
		require.NoError(t, conn.PrintfLine("%s", rr.request))
		if rr.handler != nil {
			rr.handler(t, conn)
		} else {
			readCodeLine(t, conn, rr.responseCode)
		}
	}
}

func plain(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte("\x00" + user + "\x00" + password))
}

func sendBody(body string) func(testing.TB, *textproto.Conn) {
	return func(t testing.TB, conn *textproto.Conn) {
		readCodeLine(t, conn, 354)
		w := conn.DotWriter()
		_, err := io.WriteString(w, body)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
}

func delivered(t *testing.T, store *mailstore.Maildir, mailbox string) []string {
	t.Helper()
	ctx := context.Background()
	msgs, err := store.List(ctx, mailbox)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		rc, err := store.Retrieve(ctx, mailbox, m.Key)
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		require.NoError(t, err)
		out = append(out, string(b))
	}
	return out
}

func TestRoundTrip_TypicalSubmission(t *testing.T) {
	env := newTestEnv(t, envOptions{requireAuth: true})
	conn, _ := dial(t, env.addr)

	greeting := readCodeLine(t, conn, 220)
	assert.Equal(t, "mx.test ESMTP Service Ready", greeting)

	body := "Subject: hello\r\n\r\n.leading dot\r\nbye\r\n"

	runTableTest(t, conn, []requestResponse{
		{"EHLO client.test", 0, func(t testing.TB, conn *textproto.Conn) {
			_, message, err := conn.ReadResponse(250)
			require.NoError(t, err)
			assert.Equal(t, "mx.test Hello client.test\n8BITMIME\nSIZE 4096\nAUTH PLAIN LOGIN\nHELP", message)
		}},
		{"MAIL FROM:<alice@example.com>", 530, nil},
		{"AUTH PLAIN " + plain(alice, alicePassword), 235, nil},
		{"MAIL FROM:<alice@example.com>", 250, nil},
		{"RCPT TO:<Bob@Example.com>", 250, nil},
		{"RCPT TO:<carol@example.com>", 250, nil},
		{"RCPT TO:<bob@example.com>", 250, nil},
		{"DATA", 0, sendBody(body)},
	})

	message := readCodeLine(t, conn, 250)
	assert.True(t, strings.HasPrefix(message, "OK: queued as "), message)

	runTableTest(t, conn, []requestResponse{
		{"QUIT", 221, nil},
	})

	assert.Equal(t, []string{body}, delivered(t, env.store, "bob@example.com"))
	assert.Equal(t, []string{body}, delivered(t, env.store, "carol@example.com"))
}

func TestRoundTrip_WrongPassword(t *testing.T) {
	env := newTestEnv(t, envOptions{requireAuth: true})
	conn, _ := dial(t, env.addr)
	readCodeLine(t, conn, 220)

	runTableTest(t, conn, []requestResponse{
		{"EHLO client.test", 0, func(t testing.TB, conn *textproto.Conn) {
			_, _, err := conn.ReadResponse(250)
			require.NoError(t, err)
		}},
		{"AUTH PLAIN " + plain(alice, "guess"), 535, nil},
		{"MAIL FROM:<alice@example.com>", 530, nil},
		{"QUIT", 221, nil},
	})
}

func TestRoundTrip_AuthLogin(t *testing.T) {
	env := newTestEnv(t, envOptions{requireAuth: true})
	conn, _ := dial(t, env.addr)
	readCodeLine(t, conn, 220)

	enc := base64.StdEncoding.EncodeToString
	runTableTest(t, conn, []requestResponse{
		{"HELO client.test", 250, nil},
		{"AUTH LOGIN", 334, nil},
		{enc([]byte(alice)), 334, nil},
		{enc([]byte(alicePassword)), 235, nil},
		{"AUTH LOGIN", 503, nil},
	})
}

func TestRoundTrip_Sequencing(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := dial(t, env.addr)
	readCodeLine(t, conn, 220)

	runTableTest(t, conn, []requestResponse{
		{"MAIL FROM:<alice@example.com>", 503, nil},
		{"BOGUS", 500, nil},
		{"HELO client.test", 250, nil},
		{"RCPT TO:<bob@example.com>", 503, nil},
		{"DATA", 503, nil},
		{"MAIL FROM:<>", 250, nil},
		{"MAIL FROM:<alice@example.com>", 503, nil},
		{"RCPT TO:<bob>", 501, nil},
		{"DATA", 503, nil},
		{"RSET", 250, nil},
		{"RCPT TO:<bob@example.com>", 503, nil},
		{"NOOP", 250, nil},
		{"HELP", 214, nil},
		{"QUIT", 221, nil},
	})
}

func TestRoundTrip_MessageTooLarge(t *testing.T) {
	env := newTestEnv(t, envOptions{maxSize: 64})
	conn, _ := dial(t, env.addr)
	readCodeLine(t, conn, 220)

	big := strings.Repeat("0123456789abcdef\r\n", 10)

	runTableTest(t, conn, []requestResponse{
		{"HELO client.test", 250, nil},
		{"MAIL FROM:<alice@example.com>", 250, nil},
		{"RCPT TO:<bob@example.com>", 250, nil},
		{"DATA", 0, sendBody(big)},
	})
	readCodeLine(t, conn, 552)

	// The envelope was reset; a fresh transaction succeeds.
	runTableTest(t, conn, []requestResponse{
		{"RCPT TO:<bob@example.com>", 503, nil},
		{"MAIL FROM:<alice@example.com>", 250, nil},
		{"RCPT TO:<bob@example.com>", 250, nil},
		{"DATA", 0, sendBody("small\r\n")},
	})
	readCodeLine(t, conn, 250)

	assert.Equal(t, []string{"small\r\n"}, delivered(t, env.store, "bob@example.com"))
}

func TestRoundTrip_DisconnectMidData(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, nc := dial(t, env.addr)
	readCodeLine(t, conn, 220)

	runTableTest(t, conn, []requestResponse{
		{"HELO client.test", 250, nil},
		{"MAIL FROM:<alice@example.com>", 250, nil},
		{"RCPT TO:<bob@example.com>", 250, nil},
		{"DATA", 354, nil},
	})
	require.NoError(t, conn.PrintfLine("Subject: partial"))
	_ = nc.Close()

	// Give the session time to notice the hangup.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, delivered(t, env.store, "bob@example.com"))
}

func TestRoundTrip_PoolBackpressure(t *testing.T) {
	env := newTestEnv(t, envOptions{workers: 1})

	first, _ := dial(t, env.addr)
	readCodeLine(t, first, 220)

	second, nc := dial(t, env.addr)
	_ = nc.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := second.ReadCodeLine(220)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "second session must wait for a free worker")

	runTableTest(t, first, []requestResponse{{"QUIT", 221, nil}})

	_ = nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	readCodeLine(t, second, 220)
}

func TestStack_RunSingleConn(t *testing.T) {
	dir := t.TempDir()

	users, err := auth.OpenSQLite(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })
	require.NoError(t, users.AddUser(context.Background(), alice, alicePassword, ""))

	cfg := config.Default()
	cfg.Server.Hostname = "stack.test"
	cfg.Server.Maildir = filepath.Join(dir, "mail")

	stack, err := smtp.NewStack(smtp.StackConfig{Config: cfg, Auth: users})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Close() })

	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		stack.RunSingleConn(context.Background(), serverSide)
	}()

	conn := textproto.NewConn(clientSide)
	defer func() { _ = conn.Close() }()

	assert.Equal(t, "stack.test ESMTP Service Ready", readCodeLine(t, conn, 220))
	runTableTest(t, conn, []requestResponse{
		{"HELO client.test", 250, nil},
		{"MAIL FROM:<alice@example.com>", 530, nil},
		{"QUIT", 221, nil},
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after QUIT")
	}
}
