package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/config"
)

func newLinksCommand(ctx *commandContext) *cobra.Command {
	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect and stock variant download links",
	}
	linksCmd.AddCommand(newLinksShowCommand(ctx))
	linksCmd.AddCommand(newLinksImportCommand(ctx))
	return linksCmd
}

func newLinksShowCommand(ctx *commandContext) *cobra.Command {
	var unusedOnly bool
	cmd := &cobra.Command{
		Use:   "show <variant-id>",
		Short: "Show a variant's link inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alloc, err := ctx.allocator(cmd.Context())
			if err != nil {
				return err
			}
			v, err := alloc.Inventory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInventory(v, unusedOnly))
			return nil
		},
	}
	cmd.Flags().BoolVar(&unusedOnly, "unused", false, "Only list links that are still available")
	return cmd
}

func renderInventory(v catalog.Variant, unusedOnly bool) string {
	used, unused := catalog.Counts(v.Links)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", v.ProductName, v.VariantName, v.ID)
	rows := make([][]string, 0, len(v.Links))
	for i, l := range v.Links {
		if unusedOnly && l.IsUsed {
			continue
		}
		state := "available"
		if l.IsUsed {
			state = "used"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), l.FilePath, state})
	}
	if len(rows) > 0 {
		b.WriteString(renderTable([]string{"#", "File", "State"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
	}
	fmt.Fprintf(&b, "total=%d used=%d unused=%d\n", len(v.Links), used, unused)
	return b.String()
}

func newLinksImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <variant-id> <file>",
		Short: "Append links from a file (one path per line, '-' for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			paths, err := readLinkFile(in)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no links found in input")
			}
			alloc, err := ctx.allocator(cmd.Context())
			if err != nil {
				return err
			}
			v, err := alloc.AppendLinks(cmd.Context(), args[0], paths)
			if err != nil {
				return err
			}
			_, unused := catalog.Counts(v.Links)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d link(s); %s now has %d available\n", len(paths), v.ID, unused)
			return nil
		},
	}
}

// readLinkFile returns non-empty lines, skipping '#' comments.
func readLinkFile(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func newVariantsCommand(ctx *commandContext) *cobra.Command {
	variantsCmd := &cobra.Command{
		Use:   "variants",
		Short: "Manage variants in the postgres catalog",
	}
	variantsCmd.AddCommand(newVariantsPutCommand(ctx))
	return variantsCmd
}

func newVariantsPutCommand(ctx *commandContext) *cobra.Command {
	var v catalog.Variant
	cmd := &cobra.Command{
		Use:   "put <variant-id>",
		Short: "Create or rename a variant (postgres catalog only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Catalog != config.CatalogPostgres {
				return fmt.Errorf("variants are managed in the %s catalog, not here", cfg.Catalog)
			}
			store, err := ctx.catalog(cmd.Context())
			if err != nil {
				return err
			}
			v.ID = args[0]
			if err := store.(*catalog.PGStore).UpsertVariant(cmd.Context(), v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "variant %s saved\n", v.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&v.ProductID, "product", "", "Product id")
	cmd.Flags().StringVar(&v.ProductName, "product-name", "", "Product display name")
	cmd.Flags().StringVar(&v.VariantName, "name", "", "Variant display name")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
