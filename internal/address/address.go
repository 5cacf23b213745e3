// Package address extracts and validates mailbox addresses from SMTP
// envelope commands and maps them onto mailbox names.
package address

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoBrackets is returned when an argument has no <...> path.
	ErrNoBrackets = errors.New("address must be enclosed in angle brackets")

	// ErrInvalidAddress is returned when an address fails the grammar check.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidMailbox is returned for names that cannot be used as a mailbox.
	ErrInvalidMailbox = errors.New("invalid mailbox name")
)

// addrPattern is deliberately conservative: local-part@domain over a small charset.
var addrPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

// mailboxPattern admits bare user names as well as full addresses.
var mailboxPattern = regexp.MustCompile(`^[A-Za-z0-9+_.@-]+$`)

// Extract returns the text strictly between the first '<' and the first '>'
// that follows it. The brackets themselves are required.
func Extract(arg string) (string, error) {
	start := strings.IndexByte(arg, '<')
	if start < 0 {
		return "", ErrNoBrackets
	}
	end := strings.IndexByte(arg[start+1:], '>')
	if end < 0 {
		return "", ErrNoBrackets
	}
	return arg[start+1 : start+1+end], nil
}

// Valid reports whether addr matches the accepted address grammar.
func Valid(addr string) bool {
	return addrPattern.MatchString(addr)
}

// Parse extracts and validates the path of a MAIL FROM or RCPT TO argument.
func Parse(arg string) (string, error) {
	addr, err := Extract(arg)
	if err != nil {
		return "", err
	}
	if !Valid(addr) {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// Mailbox normalises a user or address into the mailbox name used by the
// store. Names are case-insensitive and must not escape the store root.
func Mailbox(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.HasPrefix(name, ".") || !mailboxPattern.MatchString(name) {
		return "", ErrInvalidMailbox
	}
	return name, nil
}

// Domain returns the part after the last '@', or "unknown".
func Domain(addr string) string {
	if idx := strings.LastIndex(addr, "@"); idx >= 0 && idx < len(addr)-1 {
		return strings.ToLower(addr[idx+1:])
	}
	return "unknown"
}
