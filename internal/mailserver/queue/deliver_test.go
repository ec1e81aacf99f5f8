package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMXDelivererHostname(t *testing.T) {
	d := NewMXDeliverer("", zap.NewNop())
	assert.Equal(t, "localhost", d.Hostname())

	d = NewMXDeliverer("mail.panel.example", zap.NewNop())
	assert.Equal(t, "mail.panel.example", d.Hostname())

	d.SetHostname("mx.override.example")
	assert.Equal(t, "mx.override.example", d.Hostname())

	// 空值不覆盖已有主机名
	d.SetHostname("")
	assert.Equal(t, "mx.override.example", d.Hostname())
}

func TestAddressDomainExtraction(t *testing.T) {
	assert.Equal(t, "example.org", addressDomain("user@Example.ORG"))
	assert.Equal(t, "example.org", addressDomain("a@b@example.org"))
	assert.Empty(t, addressDomain("no-at-sign"))
	assert.Empty(t, addressDomain("trailing@"))
}
