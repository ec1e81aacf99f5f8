package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrEmailTooLong  = errors.New("email address too long")
	ErrInvalidDomain = errors.New("invalid domain format")
	ErrDomainTooLong = errors.New("domain too long (max 253 chars)")
)

// RFC 5321/5322 长度限制
const (
	MaxEmailLength  = 254
	MaxDomainLength = 253
)

// domainRegex 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)+$`)

// ValidateEmailAddress 验证邮箱地址格式与长度。
func ValidateEmailAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > MaxEmailLength {
		if len(address) > MaxEmailLength {
			return ErrEmailTooLong
		}
		return ErrInvalidEmail
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}
	return ValidateDomainName(address[at+1:])
}

// ValidateDomainName 验证域名格式与长度。
//
// 要求至少包含一个点（裸主机名不是可收发邮件的域名）。
func ValidateDomainName(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ErrInvalidDomain
	}
	if len(name) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}
