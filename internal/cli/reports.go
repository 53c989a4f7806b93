package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/txlens/txlens/pkg/pipeline"
	"github.com/txlens/txlens/pkg/reports"
)

type ReportsCmd struct{}

func NewReportsCmd() *ReportsCmd {
	return &ReportsCmd{}
}

func (c *ReportsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List, search and run predefined reports",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List reports, optionally only those for one schema type",
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaType, err := cmd.Root().PersistentFlags().GetString("schema-type")
			if err != nil {
				return fmt.Errorf("failed to get schema-type flag: %w", err)
			}
			printReports(cmd.OutOrStdout(), reports.Default().ListForSchemaType(schemaType))
			return nil
		},
	}

	search := &cobra.Command{
		Use:   "search [terms]",
		Short: "Find reports by name, description or keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printReports(cmd.OutOrStdout(), reports.Default().Search(strings.Join(args, " ")))
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run [report-id]",
		Short: "Run a report with the given parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaType, err := cmd.Root().PersistentFlags().GetString("schema-type")
			if err != nil {
				return fmt.Errorf("failed to get schema-type flag: %w", err)
			}
			params, err := cmd.Flags().GetStringToString("param")
			if err != nil {
				return fmt.Errorf("failed to get param flag: %w", err)
			}
			filters := filtersFromFlags(cmd.Flags())

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req := pipeline.ReportRequest{ID: args[0], SchemaType: schemaType, Params: reports.Params{}, Filters: filters}
			for k, v := range params {
				req.Params[k] = v
			}
			answer, err := a.pipeline.RunReport(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Text())
			return nil
		},
	}
	run.Flags().StringToString("param", nil, "report parameter as name=value (repeatable)")
	run.Flags().StringSlice("asset", nil, "only these asset tickers")
	run.Flags().StringSlice("operation", nil, "only these operations")
	run.Flags().StringSlice("counterparty", nil, "only these counterparties")
	run.Flags().StringSlice("status", nil, "only these statuses")

	cmd.AddCommand(list, search, run)
	return cmd
}

func printReports(w io.Writer, list []reports.Metadata) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"ID", "Name", "Schema types", "Required", "Description"})
	for _, m := range list {
		types := "any"
		if len(m.CompatibleSchemaTypes) > 0 {
			types = strings.Join(m.CompatibleSchemaTypes, ", ")
		}
		table.Append([]string{m.ID, m.Name, types, strings.Join(m.Required(), ", "), m.Description})
	}
	table.Render()
}

// filtersFromFlags collects the filter flags that were set on the command line.
func filtersFromFlags(flags *pflag.FlagSet) reports.Filters {
	var filters reports.Filters
	dst := map[string]*[]string{
		"asset":        &filters.Assets,
		"operation":    &filters.Operations,
		"counterparty": &filters.Counterparties,
		"status":       &filters.Statuses,
	}
	flags.Visit(func(f *pflag.Flag) {
		v, ok := f.Value.(pflag.SliceValue)
		if d, known := dst[f.Name]; known && ok {
			*d = v.GetSlice()
		}
	})
	return filters
}
