package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"arctic-iceberg/catalog"
	"arctic-iceberg/iceberg"
)

var (
	inspectRaw bool

	removeKeys []string

	expireOlderThan time.Duration
	expireIDs       []int64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <table>",
	Short: "Show the current metadata of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, cat *catalog.Catalog) error {
			if inspectRaw {
				doc, err := cat.MetadataJSON(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
				return err
			}
			tbl, err := cat.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			md, err := tbl.Metadata(ctx)
			if err != nil {
				return err
			}
			return printMetadata(cmd.OutOrStdout(), args[0], md)
		})
	},
}

var setPropertyCmd = &cobra.Command{
	Use:   "set-property <table> [key=value...]",
	Short: "Set and remove table properties in one commit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		if len(updates) == 0 && len(removeKeys) == 0 {
			return fmt.Errorf("nothing to change: pass key=value pairs or --remove")
		}
		return withCatalog(cmd, func(ctx context.Context, cat *catalog.Catalog) error {
			tbl, err := cat.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			u, err := tbl.UpdateProperties(ctx)
			if err != nil {
				return err
			}
			for k, v := range updates {
				u.Set(k, v)
			}
			for _, k := range removeKeys {
				u.Remove(k)
			}
			md, err := tbl.Commit(ctx, u)
			if err != nil {
				return err
			}
			return printProperties(cmd.OutOrStdout(), md.Properties())
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire-snapshots <table>",
	Short: "Remove old snapshots from the table history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if expireOlderThan == 0 && len(expireIDs) == 0 {
			return fmt.Errorf("nothing to expire: pass --older-than or --id")
		}
		return withCatalog(cmd, func(ctx context.Context, cat *catalog.Catalog) error {
			tbl, err := cat.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			u, err := tbl.ExpireSnapshots(ctx)
			if err != nil {
				return err
			}
			before := len(u.Base().Snapshots())
			if expireOlderThan > 0 {
				u.ExpireOlderThan(uint64(time.Now().Add(-expireOlderThan).UnixMilli()))
			}
			for _, id := range expireIDs {
				if id <= 0 {
					return fmt.Errorf("invalid snapshot id %d", id)
				}
				u.ExpireSnapshotID(uint64(id))
			}
			md, err := tbl.Commit(ctx, u)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired %d snapshots, %d left\n",
				before-len(md.Snapshots()), len(md.Snapshots()))
			return err
		})
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectRaw, "raw", false, "print the stored metadata JSON document")
	setPropertyCmd.Flags().StringSliceVar(&removeKeys, "remove", nil, "property keys to remove")
	expireCmd.Flags().DurationVar(&expireOlderThan, "older-than", 0, "expire snapshots older than this age")
	expireCmd.Flags().Int64SliceVar(&expireIDs, "id", nil, "snapshot ids to expire")
}

func withCatalog(cmd *cobra.Command, fn func(ctx context.Context, cat *catalog.Catalog) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	cat, closeCatalog, err := openCatalog(ctx, cfg, s, slog.Default())
	if err != nil {
		return err
	}
	defer closeCatalog()
	return fn(ctx, cat)
}

func parseAssignments(args []string) (map[string]string, error) {
	updates := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", arg)
		}
		updates[k] = v
	}
	return updates, nil
}

func printMetadata(out io.Writer, name string, md *iceberg.TableMetadata) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "table:\t%s\n", name)
	fmt.Fprintf(w, "uuid:\t%s\n", md.UUID())
	fmt.Fprintf(w, "location:\t%s\n", md.Location())
	fmt.Fprintf(w, "last updated:\t%s\n", time.UnixMilli(int64(md.LastUpdatedMillis())).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "current snapshot:\t%d\n", md.CurrentSnapshotID())

	fmt.Fprintln(w, "\nschema:")
	for _, f := range md.Schema().Fields() {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", f.ID, f.Name, f.TypeName(), req)
	}

	if spec := md.PartitionSpec(); !spec.IsUnpartitioned() {
		fmt.Fprintln(w, "\npartition spec:")
		for _, f := range spec.Fields() {
			fmt.Fprintf(w, "  %s\t%s\t%d\n", f.Name, f.Transform, f.SourceID)
		}
	}

	if snaps := md.Snapshots(); len(snaps) > 0 {
		fmt.Fprintln(w, "\nsnapshots:")
		for _, s := range snaps {
			fmt.Fprintf(w, "  %d\t%s\t%s\tparent %d\n", s.ID(),
				time.UnixMilli(int64(s.TimestampMillis())).UTC().Format(time.RFC3339),
				s.Summary()["operation"], s.ParentID())
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if props := md.Properties(); len(props) > 0 {
		fmt.Fprintln(out, "\nproperties:")
		return printProperties(out, props)
	}
	return nil
}

func printProperties(out io.Writer, props map[string]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%s\n", k, props[k])
	}
	return w.Flush()
}
