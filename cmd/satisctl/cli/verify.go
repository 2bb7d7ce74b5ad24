package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// DocumentChecker reports the integrity of a ledger document.
type DocumentChecker interface {
	DocumentIntegrity(ctx context.Context, ref string) (ledger.DocumentIntegrity, error)
}

// VerifyOptions defines the flags of the verify command.
type VerifyOptions struct {
	Refs       []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifyCommand checks each transfer document and returns 10 when any is unbalanced or missing.
func VerifyCommand(ctx context.Context, checker DocumentChecker, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.Refs) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "verify: at least one document reference is required")
		return 1
	}
	results := make([]ledger.DocumentIntegrity, 0, len(opts.Refs))
	failed := false
	for _, ref := range opts.Refs {
		ref = strings.TrimSpace(ref)
		integrity, err := checker.DocumentIntegrity(ctx, ref)
		if errors.Is(err, shared.ErrNotFound) {
			integrity = ledger.DocumentIntegrity{DocumentRef: ref}
		} else if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify: %s: %v\n", ref, err)
			return 1
		}
		if !integrity.Balanced {
			failed = true
		}
		results = append(results, integrity)
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(results); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify: encode json: %v\n", err)
			return 1
		}
	} else {
		for _, r := range results {
			status := "OK"
			if !r.Balanced {
				status = "UNBALANCED"
			}
			_, _ = fmt.Fprintf(opts.Stdout, "%-40s %-10s out=%d in=%d lines=%d\n", r.DocumentRef, status, r.OutTotal, r.InTotal, r.Lines)
		}
	}
	if failed {
		return 10
	}
	return 0
}
