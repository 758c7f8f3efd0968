package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docrouter/internal/mcp"
	"github.com/hurttlocker/docrouter/internal/pipeline"
	"github.com/hurttlocker/docrouter/internal/store"
)

func (a *app) newClassifyCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify a file, or text piped on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case fromStdin && len(args) > 0:
				return fmt.Errorf("pass a file or --stdin, not both")
			case fromStdin:
				raw, err := io.ReadAll(a.stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				return a.classify(cmd.Context(), pipeline.Document{Filename: pipeline.ManualInputName, Content: raw})
			case len(args) == 1:
				return a.classifyFile(cmd, args[0])
			default:
				return fmt.Errorf("usage: docrouter classify <file> | --stdin")
			}
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read content from stdin as "+pipeline.ManualInputName)
	return cmd
}

func (a *app) classifyFile(cmd *cobra.Command, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return a.classify(cmd.Context(), pipeline.Document{Filename: filepath.Base(path), Content: raw})
}

// classify prints the outcome before recording it, so a log failure never
// hides a result.
func (a *app) classify(ctx context.Context, doc pipeline.Document) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.router.Classify(ctx, doc)
	if err != nil {
		return fmt.Errorf("classifying %s: %w", doc.Filename, err)
	}

	fmt.Fprintf(a.stdout, "Classification: %s %s\n", out.Format, out.Intent)
	fmt.Fprintln(a.stdout, "Output:")
	fmt.Fprintln(a.stdout, out.PrettyJSON())

	if _, err := s.router.Record(ctx, out); err != nil {
		return fmt.Errorf("result not recorded: %w", err)
	}
	return nil
}

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		intent string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent classifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.List(context.Background(), store.ListOpts{Intent: intent, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "No classifications recorded yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "#%-5d %s  %-8s %-22s %s\n",
					e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Intent, e.Source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "only show entries with this intent")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum entries to show (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func (a *app) newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the distinct intents in the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			intents, err := st.DistinctIntents(context.Background())
			if err != nil {
				return err
			}
			for _, in := range intents {
				fmt.Fprintln(a.stdout, in)
			}
			return nil
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete <id>... | --all",
		Short: "Delete log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass entry ids or --all")
			}
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid entry id %q", arg)
				}
				ids = append(ids, id)
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := context.Background()

			if all {
				n, err := st.DeleteAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Deleted %d entries\n", n)
				return nil
			}

			var missing []string
			for _, id := range ids {
				if err := st.Delete(ctx, id); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						missing = append(missing, strconv.FormatInt(id, 10))
						continue
					}
					return err
				}
				fmt.Fprintf(a.stdout, "Deleted entry %d\n", id)
			}
			if len(missing) > 0 {
				return fmt.Errorf("entries not found: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every entry")
	return cmd
}

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			s.logger.Info("mcp.serve.start", "db", s.store.Path())
			srv := mcp.NewServer(mcp.ServerConfig{
				Router:  s.router,
				Store:   s.store,
				Version: version,
				Logger:  s.logger,
			})
			return mcp.ServeStdio(srv)
		},
	}
}

func (a *app) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration (API key masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.resolveConfig()
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, cfg.Masked())
		},
	}
}

func newVersionCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docrouter version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(w, "docrouter %s\n", version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
