package message

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuildInput 外发邮件的构造参数。
type BuildInput struct {
	From     string
	FromName string
	To       string
	Subject  string
	Text     string
	HTML     string
	// Domain Message-ID 使用的域名
	Domain string
}

// Build 构造一封 RFC 5322 邮件，返回原始字节与 Message-ID。
//
// 同时提供纯文本与 HTML 正文时生成 multipart/alternative，
// 纯文本部分在前（能力最弱的部分优先）。
func Build(in BuildInput) ([]byte, string) {
	domain := in.Domain
	if domain == "" {
		domain = AddressDomain(in.From)
	}
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domain)

	from := in.From
	if in.FromName != "" {
		from = (&mail.Address{Name: in.FromName, Address: in.From}).String()
	}

	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("From", from)
	writeHeader("To", in.To)
	writeHeader("Subject", encodeHeaderWord(in.Subject))
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+messageID+">")
	writeHeader("MIME-Version", "1.0")

	switch {
	case in.Text != "" && in.HTML != "":
		boundary := "b-" + uuid.NewString()
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		b.WriteString("\r\n")

		writePart(&b, boundary, "text/plain; charset=UTF-8", in.Text)
		writePart(&b, boundary, "text/html; charset=UTF-8", in.HTML)
		b.WriteString("--" + boundary + "--\r\n")

	case in.HTML != "":
		writeBody(&b, "text/html; charset=UTF-8", in.HTML)

	default:
		writeBody(&b, "text/plain; charset=UTF-8", in.Text)
	}

	return []byte(b.String()), messageID
}

// writeBody 写单部分正文及其头部
func writeBody(b *strings.Builder, contentType, body string) {
	b.WriteString("Content-Type: " + contentType + "\r\n")
	if isASCII(body) {
		b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
		b.WriteString(normalizeNewlines(body))
	} else {
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(encodeBase64Wrapped(body))
	}
	b.WriteString("\r\n")
}

// writePart 写 multipart 的一个部分
func writePart(b *strings.Builder, boundary, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	writeBody(b, contentType, body)
}

// encodeHeaderWord 对包含非 ASCII 字符的头部值做 RFC 2047 编码
func encodeHeaderWord(value string) string {
	if isASCII(value) {
		return value
	}
	return mime.QEncoding.Encode("UTF-8", value)
}

// encodeBase64Wrapped base64 编码并按 76 字符换行（RFC 2045）
func encodeBase64Wrapped(body string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\r\n")
	}
	return strings.TrimSuffix(wrapped.String(), "\r\n")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// normalizeNewlines 统一换行为 CRLF
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
