package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-mailer/internal/campaign"
	"github.com/sells-group/lead-mailer/internal/parser"
)

var prepareTone string

var prepareCmd = &cobra.Command{
	Use:   "prepare <file>...",
	Short: "Parse lead files and record a prepared campaign",
	Long:  "Parses CSV rosters and PDF statements, prints a masked preview, and stores a prepared job that `send` can dispatch.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		uploads, err := readUploads(args)
		if err != nil {
			return err
		}

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Campaign.Prepare(ctx, uploads, prepareTone)
		if err != nil {
			return eris.Wrap(err, "prepare")
		}
		return writeJSON(os.Stdout, res)
	},
}

// readUploads loads local files as uploads named by their base name.
func readUploads(paths []string) ([]parser.Upload, error) {
	uploads := make([]parser.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		uploads = append(uploads, parser.Upload{Filename: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// -- send --

var (
	sendDryRun bool
	sendTone   string
)

var sendCmd = &cobra.Command{
	Use:   "send <prepare-id>",
	Short: "Dispatch a prepared campaign",
	Long:  "Sends every lead of a prepared job. Runs as a dry run unless --dry-run=false is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Campaign.Send(ctx, campaign.SendRequest{
			PrepareID: args[0],
			DryRun:    sendDryRun,
			Tone:      sendTone,
		})
		if err != nil {
			return eris.Wrap(err, "send")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	prepareCmd.Flags().StringVar(&prepareTone, "tone", "", "email tone, see 'lead-mailer tones' (default from config)")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", true, "simulate delivery without contacting the transport")
	sendCmd.Flags().StringVar(&sendTone, "tone", "", "override the tone stored with the prepared job")

	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(sendCmd)
}
