// Package main provides account management utilities for the poll API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"pollapp/internal/cache"
	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/models"
	"pollapp/internal/repository"
	"pollapp/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin promote <user_id|email>           - Promote user to admin")
	fmt.Println("  go run ./cmd/admin demote <user_id|email>            - Demote admin to member")
	fmt.Println("  go run ./cmd/admin list-users [limit]                - List users with poll and vote counts")
	fmt.Println("  go run ./cmd/admin find-user <user_id|email>         - Show one user")
	fmt.Println("  go run ./cmd/admin add-user <email> <name> <password> [role]")
	fmt.Println("  go run ./cmd/admin normalize-roles                   - Lowercase legacy role values")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	cache.InitRedis(cfg.RedisURL)

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	args := os.Args[2:]

	switch os.Args[1] {
	case "promote":
		requireArgs(args, 1)
		setRole(ctx, users, args[0], models.RoleAdmin)
	case "demote":
		requireArgs(args, 1)
		setRole(ctx, users, args[0], models.RoleMember)
	case "list-users":
		limit := 100
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		listUsers(ctx, users, limit)
	case "find-user":
		requireArgs(args, 1)
		printUser(lookup(ctx, users, args[0]))
	case "add-user":
		requireArgs(args, 3)
		addUser(ctx, users, args)
	case "normalize-roles":
		n, err := users.NormalizeRoles(ctx)
		if err != nil {
			log.Fatalf("Failed to normalize roles: %v", err)
		}
		fmt.Printf("Normalized %d role value(s)\n", n)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func requireArgs(args []string, n int) {
	if len(args) < n {
		usage()
		os.Exit(1)
	}
}

// lookup resolves a numeric id or an email address.
func lookup(ctx context.Context, users repository.UserRepository, ref string) *models.User {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		u, err := users.GetByID(ctx, uint(id))
		if err != nil {
			if models.ErrorCode(err) == models.CodeNotFound {
				fmt.Printf("User with ID %s not found\n", ref)
				os.Exit(1)
			}
			log.Fatalf("Database error: %v", err)
		}
		return u
	}

	u, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(ref)))
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	if u == nil {
		fmt.Printf("User with email %s not found\n", ref)
		os.Exit(1)
	}
	return u
}

func setRole(ctx context.Context, users repository.UserRepository, ref string, role models.Role) {
	u := lookup(ctx, users, ref)
	if u.Role == role {
		fmt.Printf("User %s (ID: %d) is already %s\n", u.Email, u.ID, role)
		return
	}
	if err := users.UpdateRole(ctx, u.ID, role); err != nil {
		log.Fatalf("Failed to update role: %v", err)
	}
	fmt.Printf("Updated %s (ID: %d) to %s\n", u.Email, u.ID, role)
}

func listUsers(ctx context.Context, users repository.UserRepository, limit int) {
	list, err := users.List(ctx, limit, 0)
	if err != nil {
		log.Fatalf("Failed to fetch users: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No users found")
		return
	}

	fmt.Println("─────────────────────────────────────────────────────────────")
	for _, u := range list {
		fmt.Printf("ID: %d | %-6s | %s | polls: %d | votes: %d\n", u.ID, u.Role, u.Email, u.PollCount, u.VoteCount)
	}
	fmt.Println("─────────────────────────────────────────────────────────────")
}

func printUser(u *models.User) {
	fmt.Printf("ID:      %d\n", u.ID)
	fmt.Printf("Email:   %s\n", u.Email)
	fmt.Printf("Name:    %s\n", u.DisplayName())
	fmt.Printf("Role:    %s\n", u.Role)
	fmt.Printf("Theme:   %s\n", u.Theme)
	fmt.Printf("Created: %s\n", u.CreatedAt.Format("2006-01-02 15:04:05"))
}

func addUser(ctx context.Context, users repository.UserRepository, args []string) {
	email := strings.ToLower(strings.TrimSpace(args[0]))
	name := strings.TrimSpace(args[1])
	password := args[2]
	if err := validation.ValidateEmail(email); err != nil {
		log.Fatalf("Invalid email: %v", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		log.Fatalf("Invalid password: %v", err)
	}
	if name == "" {
		name = strings.Split(email, "@")[0]
	}

	role := models.RoleMember
	if len(args) > 3 {
		r, ok := models.ParseRole(args[3])
		if !ok {
			log.Fatalf("Invalid role %q: must be admin or member", args[3])
		}
		role = r
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	u := &models.User{Email: email, Name: name, Password: string(hash), Role: role, Theme: models.ThemeLight}
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("Created %s (ID: %d) as %s\n", u.Email, u.ID, u.Role)
}
