// create-credential 创建一个提交中继账号。
//
// 用法:
//
//	go run ./cmd/create-credential <username> <password> [allowed-domain ...]
//
// 数据库连接从环境变量读取（VPNADMIN_DATABASE_*）。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Case211/remnawave-admin-sub001/internal/config"
	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	sqlstore "github.com/Case211/remnawave-admin-sub001/internal/storage/sql"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-credential <username> <password> [allowed-domain ...]")
		os.Exit(1)
	}

	username := os.Args[1]
	password := os.Args[2]
	allowedDomains := os.Args[3:]

	if len(password) < 12 {
		fmt.Println("Password must be at least 12 characters")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("Database configuration is required (VPNADMIN_DATABASE_TYPE, VPNADMIN_DATABASE_DSN)")
		os.Exit(1)
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	cred := &domain.SMTPCredential{
		ID:                 uuid.NewString(),
		Username:           username,
		PasswordHash:       string(hash),
		IsActive:           true,
		AllowedFromDomains: allowedDomains,
		HourlyLimit:        100,
	}

	if err := store.SaveSMTPCredential(context.Background(), cred); err != nil {
		fmt.Printf("Failed to create credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ SMTP credential created: %s (id=%s)\n", username, cred.ID)
	if len(allowedDomains) > 0 {
		fmt.Printf("  allowed sender domains: %v\n", allowedDomains)
	} else {
		fmt.Println("  allowed sender domains: any")
	}
}
