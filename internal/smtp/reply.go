package smtp

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyLine is an SMTP reply. Lines, when present, follow Message as the
// continuation lines of a multi-line reply.
type ReplyLine struct {
	Code    int
	Message string
	Lines   []string
}

// Standard replies.
var (
	ReplyOK                = ReplyLine{Code: 250, Message: "OK"}
	ReplyHelp              = ReplyLine{Code: 214, Message: "See RFC 5321"}
	ReplyClosing           = ReplyLine{Code: 221, Message: "Service closing transmission channel"}
	ReplyAuthOK            = ReplyLine{Code: 235, Message: "Authentication successful"}
	ReplyStartData         = ReplyLine{Code: 354, Message: "Start mail input; end with <CRLF>.<CRLF>"}
	ReplyShuttingDown      = ReplyLine{Code: 421, Message: "Service not available, closing transmission channel"}
	ReplyStoreFailed       = ReplyLine{Code: 451, Message: "Requested action aborted: local error in processing"}
	ReplyTooManyRcpts      = ReplyLine{Code: 452, Message: "Too many recipients"}
	ReplyAuthUnavailable   = ReplyLine{Code: 454, Message: "Temporary authentication failure"}
	ReplyUnknownCommand    = ReplyLine{Code: 500, Message: "Syntax error, command unrecognized"}
	ReplyBadSyntax         = ReplyLine{Code: 501, Message: "Syntax error in parameters or arguments"}
	ReplyBadSequence       = ReplyLine{Code: 503, Message: "Bad sequence of commands"}
	ReplyBadMechanism      = ReplyLine{Code: 504, Message: "Unrecognized authentication type"}
	ReplyAuthRequired      = ReplyLine{Code: 530, Message: "Authentication required"}
	ReplyAuthFailed        = ReplyLine{Code: 535, Message: "Authentication credentials invalid"}
	ReplyMessageTooBig     = ReplyLine{Code: 552, Message: "Message exceeds fixed maximum message size"}
	ReplyTransactionFailed = ReplyLine{Code: 554, Message: "Transaction failed"}
)

// WithMessage returns a copy of r carrying a different message.
func (r ReplyLine) WithMessage(format string, args ...any) ReplyLine {
	r.Message = fmt.Sprintf(format, args...)
	return r
}

// Line returns the first reply line without its terminator.
func (r ReplyLine) Line() string {
	return strconv.Itoa(r.Code) + " " + r.Message
}

// String formats the reply for the wire, CRLF-terminated.
func (r ReplyLine) String() string {
	code := strconv.Itoa(r.Code)
	if len(r.Lines) == 0 {
		return code + " " + r.Message + "\r\n"
	}

	var sb strings.Builder
	all := append([]string{r.Message}, r.Lines...)
	for i, line := range all {
		sb.WriteString(code)
		if i == len(all)-1 {
			sb.WriteString(" ")
		} else {
			sb.WriteString("-")
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	return sb.String()
}
