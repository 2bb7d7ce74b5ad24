package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/HDurna/drn-satis-yazilimi/internal/auth"
)

// TokenOptions defines the flags of the token command.
type TokenOptions struct {
	UserID     int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TokenOutput is the JSON shape printed by the token command.
type TokenOutput struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCLI issues bearer tokens for existing, active users.
type TokenCLI struct {
	users  auth.Repository
	tokens *auth.TokenManager
}

// NewTokenCLI constructs the token command.
func NewTokenCLI(users auth.Repository, tokens *auth.TokenManager) *TokenCLI {
	return &TokenCLI{users: users, tokens: tokens}
}

// IssueCommand prints a token for opts.UserID and returns the process exit code.
func (c *TokenCLI) IssueCommand(ctx context.Context, opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token: user id is required and must be positive")
		return 1
	}
	user, err := c.users.FindUser(ctx, opts.UserID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	if !user.IsActive {
		_, _ = fmt.Fprintf(opts.Stderr, "token: user %d is inactive\n", user.ID)
		return 1
	}
	token, expiresAt, err := c.tokens.Issue(user)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		out := TokenOutput{UserID: user.ID, Username: user.Username, Role: string(user.Role), Token: token, ExpiresAt: expiresAt}
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "token: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return 0
}
