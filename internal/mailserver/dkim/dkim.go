// Package dkim 管理域名签名密钥并为外发邮件生成 DKIM 签名头。
package dkim

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// keyBits RSA 密钥长度
const keyBits = 2048

// signedHeaders 参与签名的头部集合
var signedHeaders = []string{
	"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type",
}

// KeyPair 一对域名签名密钥。
type KeyPair struct {
	// PrivatePEM PKCS#1 私钥（PEM 编码）
	PrivatePEM string
	// PublicBase64 PKIX 公钥（base64 编码，DNS 记录用）
	PublicBase64 string
}

// GenerateKeyPair 生成一对新的 RSA-2048 签名密钥。
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return &KeyPair{
		PrivatePEM:   string(privatePEM),
		PublicBase64: base64.StdEncoding.EncodeToString(publicKeyBytes),
	}, nil
}

// TXTRecordValue 构造域名所有者需要发布的 DNS TXT 记录值。
//
// 纯函数，无 I/O。
func TXTRecordValue(publicBase64 string) string {
	return fmt.Sprintf("v=DKIM1; k=rsa; p=%s", publicBase64)
}

// SelectorHost 返回选择器 TXT 记录所在的主机名。
func SelectorHost(selector, domain string) string {
	return fmt.Sprintf("%s._domainkey.%s", selector, domain)
}

// Sign 为邮件生成 DKIM-Signature 头并返回签名后的完整邮件。
//
// 签名覆盖 From/To/Subject/Date/Message-ID/MIME-Version/Content-Type。
// 签名失败时返回原始未签名邮件和错误：投递永远优先于签名。
func Sign(raw []byte, domain, selector, privatePEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return raw, fmt.Errorf("decode private key PEM: no block found")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return raw, fmt.Errorf("parse private key: %w", err)
	}

	options := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               selector,
		Signer:                 privateKey,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		Expiration:             time.Now().Add(7 * 24 * time.Hour),
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(raw), options); err != nil {
		return raw, fmt.Errorf("dkim sign: %w", err)
	}
	return signed.Bytes(), nil
}
