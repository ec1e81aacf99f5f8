package dkim

import (
	"bytes"
	"net"
	"strings"
	"testing"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "From: noreply@example.com\r\n" +
	"To: user@example.org\r\n" +
	"Subject: test message\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=UTF-8\r\n" +
	"\r\n" +
	"Hello there.\r\n"

func TestGenerateKeyPair(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Contains(t, keys.PrivatePEM, "RSA PRIVATE KEY")
	assert.NotEmpty(t, keys.PublicBase64)
	assert.NotContains(t, keys.PublicBase64, "\n")
}

func TestTXTRecordValue(t *testing.T) {
	value := TXTRecordValue("AAAA")
	assert.Equal(t, "v=DKIM1; k=rsa; p=AAAA", value)
}

func TestSelectorHost(t *testing.T) {
	assert.Equal(t, "mail._domainkey.example.com", SelectorHost("mail", "example.com"))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := Sign([]byte(testMessage), "example.com", "mail", keys.PrivatePEM)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(signed), "DKIM-Signature:"))

	// 用本地公钥离线验证，不触网
	verifications, err := msgauthdkim.VerifyWithOptions(bytes.NewReader(signed), &msgauthdkim.VerifyOptions{
		LookupTXT: func(name string) ([]string, error) {
			if name == "mail._domainkey.example.com" {
				return []string{TXTRecordValue(keys.PublicBase64)}, nil
			}
			return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
		},
	})
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assert.NoError(t, verifications[0].Err)
	assert.Equal(t, "example.com", verifications[0].Domain)
}

func TestSignBadKeyReturnsOriginal(t *testing.T) {
	out, err := Sign([]byte(testMessage), "example.com", "mail", "not a pem key")
	assert.Error(t, err)
	assert.Equal(t, []byte(testMessage), out)
}
