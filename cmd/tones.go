package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-mailer/internal/render"
)

var tonesCmd = &cobra.Command{
	Use:   "tones",
	Short: "List the email tones accepted by --tone",
	RunE: func(_ *cobra.Command, _ []string) error {
		r, err := render.New()
		if err != nil {
			return eris.Wrap(err, "tones")
		}
		formatTones(os.Stdout, r, cfg.Campaign.DefaultTone)
		return nil
	},
}

func formatTones(out io.Writer, r *render.Renderer, defaultTone string) {
	def, _ := r.ResolveTone(defaultTone)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TONE\tDEFAULT\tSUBJECT")
	_, _ = fmt.Fprintln(w, "----\t-------\t-------")
	for _, name := range r.ToneNames() {
		t, _ := r.Tone(name)
		mark := ""
		if name == def.Name {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, mark, t.Subject)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(tonesCmd)
}
