package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: hello\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Message-ID: <abc@example.com>\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"plain body\r\n"

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "hello", parsed.Subject)
	assert.Equal(t, "Alice <alice@example.com>", parsed.From)
	assert.Equal(t, "abc@example.com", parsed.MessageID)
	require.NotNil(t, parsed.Date)
	assert.Equal(t, "plain body\r\n", parsed.Text)
	assert.Empty(t, parsed.HTML)
	assert.Zero(t, parsed.AttachmentCount)
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: multi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"sep\"\r\n" +
		"\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"text part\r\n" +
		"--sep\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		"<p>html part</p>\r\n" +
		"--sep--\r\n"

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "text part")
	assert.Contains(t, parsed.HTML, "html part")
}

func TestParseCountsAttachments(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: with attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"sep\"\r\n" +
		"\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--sep\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0=\r\n" +
		"--sep--\r\n"

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "see attached")
	assert.Equal(t, 1, parsed.AttachmentCount)
}

func TestParseEncodedSubject(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"body\r\n"

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "你好", parsed.Subject)
}

func TestParseBadDateDoesNotFail(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: bad date\r\n" +
		"Date: not a date\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Nil(t, parsed.Date)
}

func TestBuildTextOnly(t *testing.T) {
	raw, messageID := Build(BuildInput{
		From:    "noreply@example.com",
		To:      "user@example.org",
		Subject: "welcome",
		Text:    "hello",
		Domain:  "example.com",
	})

	assert.True(t, strings.HasSuffix(messageID, "@example.com"))

	content := string(raw)
	assert.Contains(t, content, "From: noreply@example.com\r\n")
	assert.Contains(t, content, "Subject: welcome\r\n")
	assert.Contains(t, content, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, content, "Message-ID: <"+messageID+">\r\n")
	assert.Contains(t, content, "hello")
}

func TestBuildMultipart(t *testing.T) {
	raw, _ := Build(BuildInput{
		From:     "noreply@example.com",
		FromName: "Admin Panel",
		To:       "user@example.org",
		Subject:  "welcome",
		Text:     "hello",
		HTML:     "<p>hello</p>",
		Domain:   "example.com",
	})

	content := string(raw)
	assert.Contains(t, content, `From: "Admin Panel" <noreply@example.com>`)
	assert.Contains(t, content, "multipart/alternative")
	// 纯文本部分在 HTML 之前
	assert.Less(t, strings.Index(content, "text/plain"), strings.Index(content, "text/html"))
}

func TestBuildRoundTripsThroughParse(t *testing.T) {
	raw, messageID := Build(BuildInput{
		From:    "noreply@example.com",
		To:      "user@example.org",
		Subject: "订阅即将到期",
		Text:    "您的订阅还有 3 天到期。",
		Domain:  "example.com",
	})

	parsed, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "订阅即将到期", parsed.Subject)
	assert.Equal(t, messageID, parsed.MessageID)
	assert.Contains(t, parsed.Text, "您的订阅还有 3 天到期。")
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "user@example.com", ExtractAddress("User <user@example.com>"))
	assert.Equal(t, "user@example.com", ExtractAddress("user@example.com"))

	assert.Equal(t, "example.com", AddressDomain("user@Example.Com"))
	assert.Equal(t, "", AddressDomain("no-at-sign"))
	assert.Equal(t, "", AddressDomain("trailing@"))
}
