package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyLineString(t *testing.T) {
	tests := []struct {
		name  string
		reply ReplyLine
		want  string
	}{
		{"single line", ReplyOK, "250 OK\r\n"},
		{"custom message", ReplyBadSequence.WithMessage("Need %s first", "MAIL"), "503 Need MAIL first\r\n"},
		{
			"multi line",
			ReplyLine{Code: 250, Message: "mx Hello c", Lines: []string{"8BITMIME", "HELP"}},
			"250-mx Hello c\r\n250-8BITMIME\r\n250 HELP\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reply.String())
		})
	}
}

func TestReplyLineLine(t *testing.T) {
	assert.Equal(t, "354 Start mail input; end with <CRLF>.<CRLF>", ReplyStartData.Line())
}

func TestWithMessageLeavesOriginal(t *testing.T) {
	_ = ReplyOK.WithMessage("changed")
	assert.Equal(t, "OK", ReplyOK.Message)
}

func TestParseCommand(t *testing.T) {
	verb, arg, err := ParseCommand("mail FROM:<a@b.com> SIZE=10\r")
	assert.NoError(t, err)
	assert.Equal(t, "MAIL", verb)
	assert.Equal(t, "FROM:<a@b.com> SIZE=10", arg)

	verb, arg, err = ParseCommand("  DATA  ")
	assert.NoError(t, err)
	assert.Equal(t, "DATA", verb)
	assert.Empty(t, arg)

	_, _, err = ParseCommand("   ")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "GREETED", StateGreeted.String())
	assert.Equal(t, "MAIL", StateMailSet.String())
	assert.Equal(t, "RCPT", StateRcptSet.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
