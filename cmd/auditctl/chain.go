package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfilz/openfilz-core-sub000/pkg/client"
)

// ── verify ───────────────────────────────────────────────────────────────────

var verifyFrom, verifyTo int64

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the audit chain and report the first broken link",
	Long: `verify asks auditd to recompute every hash in the chain.

The command exits with status 1 when the chain is BROKEN, so it can gate
deployments or run from cron:

  auditctl verify || page-oncall "audit chain broken"

Use --from/--to to check a range of entry ids.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.VerifyRange(context.Background(), verifyFrom, verifyTo)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if outputFormat == "json" {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			fmt.Printf("Status:    %s\n", res.Status)
			fmt.Printf("Entries:   %d\n", res.TotalEntries)
			fmt.Printf("Verified:  %d\n", res.VerifiedEntries)
			fmt.Printf("Checked:   %s\n", res.VerifiedAt.Format(time.RFC3339))
			if res.BrokenLink != nil {
				fmt.Printf("\nBroken at entry %d\n", res.BrokenLink.EntryID)
				fmt.Printf("  expected: %s\n", res.BrokenLink.ExpectedHash)
				fmt.Printf("  stored:   %s\n", res.BrokenLink.ActualHash)
			}
		}
		if !res.Valid() {
			return errChainBroken
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "First entry id to verify (0 = chain start)")
	verifyCmd.Flags().Int64Var(&verifyTo, "to", 0, "Last entry id to verify (0 = chain head)")
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show chain length, root hash and parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.Chain(context.Background())
		if err != nil {
			return fmt.Errorf("chain: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(info)
		}
		fmt.Printf("Entries:    %d\n", info.Entries)
		fmt.Printf("Root:       %s\n", info.Root)
		fmt.Printf("Algorithm:  %s\n", info.Algorithm)
		fmt.Printf("Genesis:    %s\n", info.GenesisPreviousHash)
		fmt.Printf("Excluded:   %s\n", strings.Join(info.ExcludedActions, ", "))
		return nil
	},
}

// ── trail ────────────────────────────────────────────────────────────────────

var trailSort string

var trailCmd = &cobra.Command{
	Use:   "trail <resource-id>",
	Short: "List every audit entry referencing a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Trail(context.Background(), args[0], trailSort)
		if err != nil {
			return fmt.Errorf("trail: %w", err)
		}
		return printEntries(entries)
	},
}

func init() {
	trailCmd.Flags().StringVar(&trailSort, "sort", "", "ASC or DESC (default DESC)")
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchReq  client.SearchRequest
	searchFrom string
	searchTo   string
	searchMeta []string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search audit entries",
	Long: `search combines every given filter with AND.

  auditctl search --action DELETE_FILE --user alice --from 2026-01-01T00:00:00Z
  auditctl search --meta name=Invoices --meta size=42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := searchReq
		var err error
		if req.From, err = parseTimeFlag("from", searchFrom); err != nil {
			return err
		}
		if req.To, err = parseTimeFlag("to", searchTo); err != nil {
			return err
		}
		if req.Metadata, err = parseMeta(searchMeta); err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Search(context.Background(), req)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return printEntries(entries)
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchReq.ResourceID, "resource-id", "", "Resource id")
	f.StringVar(&searchReq.ResourceType, "resource-type", "", "FILE or FOLDER")
	f.StringVar(&searchReq.Action, "action", "", "Action kind, e.g. CREATE_FOLDER")
	f.StringVar(&searchReq.UserPrincipal, "user", "", "User principal")
	f.StringVar(&searchReq.SortOrder, "sort", "", "ASC or DESC (default ASC)")
	f.IntVar(&searchReq.Limit, "limit", 0, "Maximum number of entries (0 = all)")
	f.StringVar(&searchFrom, "from", "", "Earliest timestamp (RFC 3339)")
	f.StringVar(&searchTo, "to", "", "Latest timestamp (RFC 3339)")
	f.StringArrayVar(&searchMeta, "meta", nil, "Metadata containment key=value (repeatable)")
}

func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recordReq  client.RecordRequest
	recordMeta []string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append an entry to the audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := recordReq
		var err error
		if req.Metadata, err = parseMeta(recordMeta); err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		entry, err := c.Record(context.Background(), req)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		if entry == nil {
			fmt.Printf("%s is excluded from the chain; nothing recorded\n", req.Action)
			return nil
		}
		if outputFormat == "json" {
			return printJSON(entry)
		}
		fmt.Printf("Recorded entry %d\n", entry.ID)
		fmt.Printf("  hash:     %s\n", entry.Hash)
		fmt.Printf("  previous: %s\n", entry.PreviousHash)
		return nil
	},
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordReq.Action, "action", "", "Action kind (required)")
	f.StringVar(&recordReq.ResourceType, "resource-type", "", "FILE or FOLDER")
	f.StringVar(&recordReq.ResourceID, "resource-id", "", "Resource id")
	f.StringVar(&recordReq.UserPrincipal, "user", "", "User principal (default: token subject)")
	f.StringArrayVar(&recordMeta, "meta", nil, "Metadata key=value (repeatable)")
	_ = recordCmd.MarkFlagRequired("action")
}

// ── output ───────────────────────────────────────────────────────────────────

func printEntries(entries []client.Entry) error {
	if outputFormat == "json" {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tUSER\tACTION\tTYPE\tRESOURCE\tHASH")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Timestamp.Format(time.RFC3339), e.UserPrincipal, e.Action,
			e.ResourceType, e.ResourceID, shortHash(e.Hash))
	}
	return w.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
