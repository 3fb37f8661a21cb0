package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/fetcher"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/store"
)

const importBatchSize = 500

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage the suppression list",
	Long:  "Addresses on the suppression list are never emailed.",
}

var suppressAddCmd = &cobra.Command{
	Use:   "add <email>...",
	Short: "Suppress one or more addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, email := range args {
			added, err := st.AddSuppression(ctx, email)
			if err != nil {
				return eris.Wrapf(err, "suppress add %s", email)
			}
			state := "added"
			if !added {
				state = "already suppressed"
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", store.NormalizeEmail(email), state)
		}
		return nil
	},
}

var suppressCheckCmd = &cobra.Command{
	Use:   "check <email>",
	Short: "Report whether an address is suppressed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		suppressed, err := st.IsSuppressed(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "suppress check")
		}
		fmt.Fprintf(os.Stdout, "%s\tsuppressed=%t\n", store.NormalizeEmail(args[0]), suppressed)
		return nil
	},
}

var suppressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suppressed addresses, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := st.ListSuppressions(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "suppress list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No suppressed addresses.")
			return nil
		}
		formatSuppressions(os.Stdout, list)
		return nil
	},
}

var (
	suppressImportCSV    string
	suppressImportColumn string
)

var suppressImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Suppress every address in a CSV column",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(suppressImportCSV)
		if err != nil {
			return eris.Wrap(err, "suppress import")
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		read, added, err := importSuppressions(ctx, st, f, suppressImportColumn)
		if err != nil {
			return eris.Wrap(err, "suppress import")
		}

		zap.L().Info("suppression import complete",
			zap.String("csv", suppressImportCSV),
			zap.Int("read", read),
			zap.Int64("added", added),
		)
		return nil
	},
}

// importSuppressions streams r as CSV and suppresses every non-blank value in
// column, in batches. It returns the number of addresses read and added.
func importSuppressions(ctx context.Context, st store.Store, r io.Reader, column string) (int, int64, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HeaderCh:  headerCh,
		TrimSpace: true,
		SkipBlank: true,
		StripBOM:  true,
	})

	col := -1
	var (
		batch []string
		read  int
		added int64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := st.AddSuppressions(ctx, batch)
		if err != nil {
			return err
		}
		added += n
		batch = batch[:0]
		return nil
	}

	for row := range rowCh {
		if col < 0 {
			header := <-headerCh
			col = columnIndex(header, column)
			if col < 0 {
				drain(rowCh)
				return 0, 0, eris.Errorf("column %q not found in header", column)
			}
		}
		if col >= len(row) || row[col] == "" {
			continue
		}
		batch = append(batch, row[col])
		read++
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				drain(rowCh)
				return read, added, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return read, added, err
	}
	if err := flush(); err != nil {
		return read, added, err
	}
	return read, added, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func drain(ch <-chan []string) {
	for range ch {
	}
}

func init() {
	suppressListCmd.Flags().Int("limit", 50, "max number of addresses to display")
	suppressListCmd.Flags().Int("offset", 0, "number of addresses to skip")

	suppressImportCmd.Flags().StringVar(&suppressImportCSV, "csv", "", "path to CSV file (required)")
	suppressImportCmd.Flags().StringVar(&suppressImportColumn, "column", "email", "header of the address column")
	_ = suppressImportCmd.MarkFlagRequired("csv")

	suppressCmd.AddCommand(suppressAddCmd)
	suppressCmd.AddCommand(suppressCheckCmd)
	suppressCmd.AddCommand(suppressListCmd)
	suppressCmd.AddCommand(suppressImportCmd)
	rootCmd.AddCommand(suppressCmd)
}

// formatSuppressions writes a tabular suppression list to w.
func formatSuppressions(out io.Writer, list []model.Suppression) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EMAIL\tADDED")
	_, _ = fmt.Fprintln(w, "-----\t-----")
	for _, s := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", s.Email, s.AddedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
