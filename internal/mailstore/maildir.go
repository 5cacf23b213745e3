package mailstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/maild/internal/address"
)

// Maildir stores each mailbox as a maildir under a common root.
// The read flag maps onto the maildir "S" (seen) flag.
type Maildir struct {
	root string
}

// NewMaildir returns a store rooted at root, creating the directory if needed.
func NewMaildir(root string) (*Maildir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating maildir root: %w", err)
	}
	return &Maildir{root: root}, nil
}

func (m *Maildir) dir(mailbox string) (maildir.Dir, error) {
	name, err := address.Mailbox(mailbox)
	if err != nil {
		return "", err
	}
	return maildir.Dir(filepath.Join(m.root, name)), nil
}

// Exists reports whether the mailbox directory exists.
func (m *Maildir) Exists(ctx context.Context, mailbox string) (bool, error) {
	d, err := m.dir(mailbox)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(string(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// List moves newly delivered mail into cur and returns every message,
// ordered by modification time with the key as tie-breaker.
func (m *Maildir) List(ctx context.Context, mailbox string) ([]MessageInfo, error) {
	d, err := m.existing(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	if _, err := d.Unseen(); err != nil {
		return nil, fmt.Errorf("collecting new messages: %w", err)
	}

	msgs, err := d.Messages()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	infos := make([]MessageInfo, 0, len(msgs))
	for _, msg := range msgs {
		st, err := os.Stat(msg.Filename())
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		infos = append(infos, MessageInfo{
			Key:     msg.Key(),
			Size:    st.Size(),
			ModTime: st.ModTime(),
			Read:    slices.Contains(msg.Flags(), maildir.FlagSeen),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.Before(infos[j].ModTime)
		}
		return infos[i].Key < infos[j].Key
	})

	return infos, nil
}

// Retrieve opens the message stored under key.
func (m *Maildir) Retrieve(ctx context.Context, mailbox, key string) (io.ReadCloser, error) {
	msg, err := m.message(ctx, mailbox, key)
	if err != nil {
		return nil, err
	}
	return msg.Open()
}

// Delete removes the message stored under key.
func (m *Maildir) Delete(ctx context.Context, mailbox, key string) error {
	msg, err := m.message(ctx, mailbox, key)
	if err != nil {
		return err
	}
	return msg.Remove()
}

// MarkRead sets the seen flag on the message stored under key.
func (m *Maildir) MarkRead(ctx context.Context, mailbox, key string) error {
	msg, err := m.message(ctx, mailbox, key)
	if err != nil {
		return err
	}
	flags := msg.Flags()
	if slices.Contains(flags, maildir.FlagSeen) {
		return nil
	}
	return msg.SetFlags(append(flags, maildir.FlagSeen))
}

// Append delivers data into the mailbox's new directory.
func (m *Maildir) Append(ctx context.Context, mailbox string, data io.Reader) error {
	d, err := m.dir(mailbox)
	if err != nil {
		return err
	}

	exists, err := m.Exists(ctx, mailbox)
	if err != nil {
		return err
	}
	if !exists {
		if err := d.Init(); err != nil {
			return fmt.Errorf("creating mailbox: %w", err)
		}
	}

	delivery, err := maildir.NewDelivery(string(d))
	if err != nil {
		return fmt.Errorf("starting delivery: %w", err)
	}
	if _, err := io.Copy(delivery, data); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := delivery.Close(); err != nil {
		return fmt.Errorf("finishing delivery: %w", err)
	}
	return nil
}

func (m *Maildir) existing(ctx context.Context, mailbox string) (maildir.Dir, error) {
	exists, err := m.Exists(ctx, mailbox)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrMailboxNotFound
	}
	return m.dir(mailbox)
}

func (m *Maildir) message(ctx context.Context, mailbox, key string) (*maildir.Message, error) {
	d, err := m.existing(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	msgs, err := d.Messages()
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.Key() == key {
			return msg, nil
		}
	}
	return nil, ErrMessageNotFound
}
