package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"FedGuard/internal/checkpoint"
	"FedGuard/internal/config"
	"FedGuard/internal/digest"
	"FedGuard/internal/ledger"
	"FedGuard/internal/storage"
	"FedGuard/internal/sync"
	"FedGuard/internal/trust"
)

func newShowCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every block of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeFn, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), l.Chain())
			}
			return printChain(cmd.OutOrStdout(), l.Chain())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the block document as JSON")

	return cmd
}

func newTipCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tip",
		Short: "Print the last block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeFn, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			tip, err := l.Tip()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tip)
		},
	}
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every block hash and check the chain links",
		Long:  "Recompute every block hash and check the chain links. Exits with status 2 when violations are found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeFn, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			return reportViolations(cmd.OutOrStdout(), l)
		},
	}
}

func newDigestCmd(opts *options) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "digest <checkpoint>",
		Short: "Print the weight digest of a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := checkpoint.NewStore(args[0])

			weights, err := store.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest.Sum(weights))

			if !check {
				return nil
			}

			l, closeFn, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			tip, err := l.Tip()
			if err != nil {
				return err
			}
			if _, err := store.LoadVerified(tip); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "matches block %d\n", tip.Index)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Also require the digest to match the ledger tip")

	return cmd
}

func newFilterCmd(opts *options) *cobra.Command {
	var participant, outDir string

	cmd := &cobra.Command{
		Use:   "filter <csv>",
		Short: "Screen a training dataset and write the audit files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			ds, err := readDataset(args[0])
			if err != nil {
				return err
			}

			res, err := trust.NewFilter(cfg.TrustOptions()).Filter(ds)
			if err != nil {
				return err
			}

			if participant == "" {
				participant = uuid.NewString()
			}
			if outDir == "" {
				outDir = filepath.Join("audit", participant)
			}

			m, err := trust.WriteAudit(outDir, participant, res)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "participant %s: %d accepted, %d rejected\n", m.Participant, m.Accepted, m.Rejected)
			for _, r := range res.Rejected {
				fmt.Fprintf(w, "  line %d (%s): %s\n", r.Line, r.Kind, r.Reason)
			}
			fmt.Fprintf(w, "audit written to %s\n", outDir)

			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "Participant ID (random if empty)")
	cmd.Flags().StringVar(&outDir, "out", "", "Audit directory (default audit/<participant>)")

	return cmd
}

func newVerifyAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit <dir>",
		Short: "Check audit files against their manifest checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := trust.VerifyAudit(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "audit of %s intact (%d accepted, %d rejected, %s)\n",
				m.Participant, m.Accepted, m.Rejected, m.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newSnapshotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <out>",
		Short: "Export the ledger as a compressed snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeFn, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			chain := l.Chain()

			data, err := sync.CreateSnapshot(chain)
			if err != nil {
				return err
			}
			if err := storage.WriteFileAtomic(args[0], data); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d blocks (%d bytes) to %s\n", len(chain), len(data), args[0])
			return nil
		},
	}
}

func newInspectSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-snapshot <file>",
		Short: "Mirror a snapshot and verify it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot:\n%w", err)
			}

			l, err := sync.Mirror(data)
			if err != nil {
				return err
			}

			if err := printChain(cmd.OutOrStdout(), l.Chain()); err != nil {
				return err
			}
			return reportViolations(cmd.OutOrStdout(), l)
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			return config.Default().Save(args[0])
		},
	}
}

// reportViolations prints the result of verifying l and returns
// errViolations when any check failed.
func reportViolations(w io.Writer, l *ledger.Ledger) error {
	violations := l.Verify()
	if len(violations) == 0 {
		fmt.Fprintf(w, "ledger valid: %d blocks\n", l.Len())
		return nil
	}

	for _, v := range violations {
		fmt.Fprintf(w, "block %d: %s: %s\n", v.Index, v.Kind, v.Detail)
	}

	return fmt.Errorf("%w: %d violations", errViolations, len(violations))
}

// printChain prints one line per block.
func printChain(w io.Writer, chain []ledger.Block) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIME\tMODEL\tHASH")

	for _, b := range chain {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", b.Index, b.Time().UTC().Format(time.RFC3339), abbrev(b.ModelHash), abbrev(b.Hash))
	}

	return tw.Flush()
}

// readDataset reads a CSV dataset from path.
func readDataset(path string) (trust.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return trust.Dataset{}, fmt.Errorf("open dataset:\n%w", err)
	}
	defer f.Close()

	return trust.ReadCSV(f)
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// abbrev shortens a hash for tables.
func abbrev(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
