package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warcreplay/internal/archive"
	"warcreplay/internal/archive/remote"
	"warcreplay/internal/catalog"
	"warcreplay/internal/collection"
	"warcreplay/internal/replay"
)

func newListCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")

			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			recs, err := listRecords(cmd.Context(), e.manager, typ)
			if err != nil {
				return err
			}
			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(recs)
			}
			rows := make([][]string, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, []string{
					rec.Name,
					rec.Type,
					rec.Config.SourceName,
					formatMillis(rec.Config.CTime),
					rec.Config.Metadata.Title,
				})
			}
			p.table([]string{"NAME", "TYPE", "SOURCE", "CREATED", "TITLE"}, rows)
			return nil
		},
	}
	cmd.Flags().String("type", "", "only list collections of this type")
	return cmd
}

func listRecords(ctx context.Context, m *collection.Manager, typ string) ([]catalog.Record, error) {
	if typ == "" {
		return m.List(ctx)
	}
	return m.ListByType(ctx, typ)
}

func newAddCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <source-url>",
		Short: "Add a collection from a source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			typ, _ := cmd.Flags().GetString("type")
			title, _ := cmd.Flags().GetString("title")
			root, _ := cmd.Flags().GetBool("root")
			rawHeaders, _ := cmd.Flags().GetStringArray("header")
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			req := collection.AddRequest{
				Name: args[0],
				File: collection.File{SourceURL: args[1], Headers: headers},
				Type: typ,
				Root: root,
			}
			req.Metadata.Title = title

			c, err := e.manager.AddCollection(ctx, req, func(p archive.Progress) {
				if p.Err != nil {
					return
				}
				fmt.Fprintf(os.Stderr, "\r%s: %3d%%", args[0], p.Percent)
				if p.Percent >= 100 {
					fmt.Fprintln(os.Stderr)
				}
			})
			var auth *archive.AuthNeededError
			switch {
			case errors.As(err, &auth):
				return fmt.Errorf("source requires credentials (pass --header): %s", auth.FileHandle)
			case err != nil:
				return err
			}

			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(c.Record)
			}
			p.kv([][2]string{
				{"Name", c.Name},
				{"Type", c.Type},
				{"Source", c.Config.SourceURL},
				{"DB", c.Config.DBName},
				{"Created", formatMillis(c.Config.CTime)},
			})
			return nil
		},
	}
	cmd.Flags().String("type", "", "collection type (default: remotewarcproxy)")
	cmd.Flags().String("title", "", "collection title")
	cmd.Flags().Bool("root", false, "mark as the root collection")
	cmd.Flags().StringArray("header", nil, "request header for the source, as Name: value (repeatable)")
	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want Name: value", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func newPagesCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages <collection> <source>",
		Short: "Import pages or a curated page list into a collection",
		Long: `Import a pages file (one JSON object per line, as in json-pages-1.0)
into an archive or remotewarcproxy collection. By default the lines become
the collection's pages. With --new-list they form a new curated page list;
with --list-id they are appended to an existing one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, _ := cmd.Flags().GetString("list-id")
			rawHeaders, _ := cmd.Flags().GetStringArray("header")
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}
			imp := remote.PageImport{
				Source: remote.Source{URL: args[1], Headers: headers},
				ListID: listID,
			}
			if cmd.Flags().Changed("new-list") {
				title, _ := cmd.Flags().GetString("new-list")
				imp.List = &archive.PageList{Title: title, Show: true}
			}

			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx := cmd.Context()
			c, err := e.manager.GetColl(ctx, args[0])
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("collection %q not found", args[0])
			}
			n, err := importPages(ctx, c, imp)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d pages into %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().String("new-list", "", "create a curated page list with this title from the pages")
	cmd.Flags().String("list-id", "", "append the pages to this curated page list")
	cmd.Flags().StringArray("header", nil, "request header for the source, as Name: value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("new-list", "list-id")
	return cmd
}

func importPages(ctx context.Context, c *collection.Collection, imp remote.PageImport) (int, error) {
	w, ok := c.Store.(remote.PageWriter)
	if !ok {
		return 0, fmt.Errorf("collection %q of type %s does not store pages", c.Name, c.Type)
	}
	return remote.ImportPages(ctx, &http.Client{}, w, imp)
}

func newDeleteCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection and its archive database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ok, err := e.manager.DeleteColl(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("collection %q not found or in use", args[0])
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func newResolveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <collection> <url>",
		Short: "Look up a URL in a collection, falling back to fuzzy matching",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx := cmd.Context()
			c, err := e.manager.GetColl(ctx, args[0])
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("collection %q not found", args[0])
			}
			m, err := replay.NewResolver(e.matcher).Lookup(ctx, c.Store, args[1])
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no capture of %s", args[1])
			}

			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(m)
			}
			p.kv([][2]string{
				{"URL", m.Resource.URL},
				{"Timestamp", m.Resource.TS},
				{"Mime", m.Resource.Mime},
				{"Status", strconv.Itoa(m.Resource.Status)},
				{"Matched", m.MatchedURL},
				{"Fuzzy", strconv.FormatBool(m.Fuzzy)},
			})
			return nil
		},
	}
}

func newCandidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <url>",
		Short: "Show the fuzzy rule, canonical URL, and candidates for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher, err := loadMatcher(cmd)
			if err != nil {
				return err
			}
			res := matcher.ResolveRule(args[0])
			candidates := matcher.Candidates(args[0])

			rule := ""
			if res.Rule != nil {
				rule = res.Rule.Match.String()
			}

			p := newPrinter(cmd)
			if p.isJSON() {
				return p.json(map[string]any{
					"rule":         rule,
					"canonicalUrl": res.CanonicalURL,
					"prefix":       res.Prefix,
					"candidates":   candidates,
				})
			}
			pairs := [][2]string{
				{"Rule", rule},
				{"Canonical", res.CanonicalURL},
				{"Prefix", res.Prefix},
			}
			for i, c := range candidates {
				pairs = append(pairs, [2]string{"Candidate " + strconv.Itoa(i+1), c})
			}
			p.kv(pairs)
			return nil
		},
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

