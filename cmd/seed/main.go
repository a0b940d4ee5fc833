// cmd/seed records realistic document-management activity against a running
// auditd, then verifies the chain.
//
// Each workflow runs in its own goroutine, so the appends arrive concurrently
// and exercise the writer's linearization. Running it repeatedly only extends
// the chain. Events are attributed to demo users, so when auditd requires
// tokens AUDIT_TOKEN needs the audit:write and audit:delegate roles.
//
// Usage:
//
//	go run ./cmd/seed
//	AUDIT_URL=http://localhost:8080 AUDIT_TOKEN=... SEED_WORKFLOWS=50 go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openfilz/openfilz-core-sub000/pkg/client"
)

const defaultURL = "http://localhost:8080"

var principals = []string{"alice@acme.com", "bob@acme.com", "carol@acme.com"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	base := os.Getenv("AUDIT_URL")
	if base == "" {
		base = defaultURL
	}
	workflows := 20
	if v := os.Getenv("SEED_WORKFLOWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("SEED_WORKFLOWS must be a positive integer, got %q", v)
		}
		workflows = n
	}

	var opts []client.Option
	if tok := os.Getenv("AUDIT_TOKEN"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	c, err := client.New(base, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	before, err := c.Chain(ctx)
	if err != nil {
		return fmt.Errorf("reach auditd at %s: %w", base, err)
	}
	fmt.Printf("chain has %d entries (%s)\n", before.Entries, before.Algorithm)

	var recorded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := 0; i < workflows; i++ {
		i := i
		g.Go(func() error {
			r, s, err := documentLifecycle(gctx, c, principals[i%len(principals)])
			recorded.Add(r)
			skipped.Add(s)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Printf("recorded %d entries, %d excluded\n", recorded.Load(), skipped.Load())

	res, err := c.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Printf("verification: %s (%d/%d entries)\n", res.Status, res.VerifiedEntries, res.TotalEntries)
	if !res.Valid() {
		return errors.New("chain is BROKEN after seeding")
	}

	fmt.Println("\nseed complete")
	return nil
}

// documentLifecycle records the actions a user produces while filing a document.
func documentLifecycle(ctx context.Context, c *client.Client, user string) (recorded, skipped int64, err error) {
	folderID := uuid.NewString()
	archiveID := uuid.NewString()
	fileID := uuid.NewString()

	steps := []client.RecordRequest{
		{Action: "CREATE_FOLDER", ResourceType: "FOLDER", ResourceID: folderID,
			Metadata: map[string]any{"name": "Invoices"}},
		{Action: "CREATE_FOLDER", ResourceType: "FOLDER", ResourceID: archiveID,
			Metadata: map[string]any{"name": "Archive"}},
		{Action: "UPLOAD_DOCUMENT", ResourceType: "FILE", ResourceID: fileID,
			Metadata: map[string]any{"filename": "invoice.pdf", "size": 48213, "parentFolderId": folderID}},
		{Action: "UPDATE_DOCUMENT_METADATA", ResourceType: "FILE", ResourceID: fileID,
			Metadata: map[string]any{"updatedMetadata": map[string]any{"customer": "ACME", "year": 2026}}},
		{Action: "DOWNLOAD_DOCUMENT", ResourceType: "FILE", ResourceID: fileID},
		{Action: "RENAME_FILE", ResourceType: "FILE", ResourceID: fileID,
			Metadata: map[string]any{"newName": "invoice-2026-01.pdf"}},
		{Action: "MOVE_FILE", ResourceType: "FILE", ResourceID: fileID,
			Metadata: map[string]any{"targetFolderId": archiveID}},
		{Action: "DELETE_FOLDER", ResourceType: "FOLDER", ResourceID: folderID},
	}

	for _, s := range steps {
		s.UserPrincipal = user
		e, err := c.Record(ctx, s)
		if err != nil {
			return recorded, skipped, fmt.Errorf("%s %s: %w", s.Action, s.ResourceID, err)
		}
		if e == nil {
			skipped++
			continue
		}
		recorded++
	}
	return recorded, skipped, nil
}
