package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmailAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr error
	}{
		{"valid simple", "user@example.com", nil},
		{"valid with dots", "first.last@mail.example.com", nil},
		{"valid with plus", "user+tag@example.com", nil},
		{"empty", "", ErrInvalidEmail},
		{"missing at", "userexample.com", ErrInvalidEmail},
		{"missing domain", "user@", ErrInvalidEmail},
		{"bare hostname domain", "user@localhost", ErrInvalidDomain},
		{"display name form", "User <user@example.com>", ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmailAddress(tt.address)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDomainName(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr error
	}{
		{"valid", "example.com", nil},
		{"valid subdomain", "mail.example.com", nil},
		{"valid with hyphen", "my-panel.example.com", nil},
		{"uppercase normalized", "EXAMPLE.COM", nil},
		{"empty", "", ErrInvalidDomain},
		{"no dot", "localhost", ErrInvalidDomain},
		{"leading hyphen", "-bad.example.com", ErrInvalidDomain},
		{"contains space", "exa mple.com", ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomainName(tt.domain)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOutboundEmailExhausted(t *testing.T) {
	email := &OutboundEmail{Attempts: 4, MaxAttempts: 5}
	assert.False(t, email.Exhausted())

	email.Attempts = 5
	assert.True(t, email.Exhausted())
}

func TestMailDomainSwitches(t *testing.T) {
	d := &MailDomain{IsActive: true, InboundEnabled: true, OutboundEnabled: true}
	assert.True(t, d.CanSend())
	assert.True(t, d.CanReceive())

	d.OutboundEnabled = false
	assert.False(t, d.CanSend())
	assert.True(t, d.CanReceive())

	d.IsActive = false
	assert.False(t, d.CanReceive())
}

func TestCredentialAllowsFromDomain(t *testing.T) {
	cred := &SMTPCredential{}
	assert.True(t, cred.AllowsFromDomain("anything.example.com"))

	cred.AllowedFromDomains = []string{"example.com", "mail.example.org"}
	assert.True(t, cred.AllowsFromDomain("example.com"))
	assert.True(t, cred.AllowsFromDomain("EXAMPLE.COM"))
	assert.False(t, cred.AllowsFromDomain("evil.com"))
}
