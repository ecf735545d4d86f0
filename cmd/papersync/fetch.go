package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a paper's PDF into a local file",
	Long: `Fetch tries each configured PDF source in priority order and writes the
first valid PDF to --out. Nothing is stored in the library.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("bibcode", "", "ADS bibcode")
	fetchCmd.Flags().String("doi", "", "DOI")
	fetchCmd.Flags().String("arxiv", "", "arXiv identifier")
	fetchCmd.Flags().String("out", "", "output file (default: <identifier>.pdf)")
	fetchCmd.Flags().String("proxy", "", "institutional proxy prefix (overrides configuration)")
	fetchCmd.Flags().Bool("quiet", false, "do not report download progress")

	rootCmd.AddCommand(fetchCmd)
}

// fetchView is the printed outcome of a fetch.
type fetchView struct {
	File   string `json:"file" yaml:"file"`
	Bytes  int    `json:"bytes" yaml:"bytes"`
	Source string `json:"source" yaml:"source"`
	URL    string `json:"url" yaml:"url"`
}

func runFetch(cmd *cobra.Command, _ []string) error {
	bibcode, _ := cmd.Flags().GetString("bibcode")
	doi, _ := cmd.Flags().GetString("doi")
	arxivID, _ := cmd.Flags().GetString("arxiv")
	out, _ := cmd.Flags().GetString("out")
	proxy, _ := cmd.Flags().GetString("proxy")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ids := domain.Identifiers{Bibcode: bibcode, DOI: doi, ArXivID: arxivID}.Normalize()
	if ids.IsEmpty() {
		return fmt.Errorf("provide --bibcode, --doi or --arxiv")
	}
	if out == "" {
		out = defaultPDFName(ids)
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if proxy == "" {
		proxy = env.cfg.Acquisition.ProxyPrefix
	}

	var progress chan acquisition.Progress
	done := make(chan struct{})
	if quiet {
		close(done)
	} else {
		progress = make(chan acquisition.Progress, 16)
		go func() {
			defer close(done)
			reportProgress(cmd.ErrOrStderr(), progress)
		}()
	}

	res, err := env.components.Cache.DownloadForPaper(cmd.Context(), &domain.Paper{Identifiers: ids}, proxy, progress)
	if progress != nil {
		close(progress)
	}
	<-done
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	view := fetchView{File: out, Bytes: len(res.Data), Source: string(res.Source), URL: res.URL}
	return render(cmd.OutOrStdout(), output, view, func(tw *tabwriter.Writer) {
		row(tw, "FILE", view.File)
		row(tw, "BYTES", view.Bytes)
		row(tw, "SOURCE", view.Source)
		row(tw, "URL", view.URL)
	})
}

// defaultPDFName derives a file name from the most specific identifier.
func defaultPDFName(ids domain.Identifiers) string {
	name := ids.Bibcode
	if name == "" {
		name = ids.ArXivID
	}
	if name == "" {
		name = ids.DOI
	}
	name = strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(name)
	return filepath.Clean(name + ".pdf")
}

func reportProgress(w io.Writer, updates <-chan acquisition.Progress) {
	reported := false
	for p := range updates {
		reported = true
		if p.Total > 0 {
			fmt.Fprintf(w, "\r%s: %d/%d bytes", p.URL, p.Received, p.Total)
		} else {
			fmt.Fprintf(w, "\r%s: %d bytes", p.URL, p.Received)
		}
	}
	if reported {
		fmt.Fprintln(w)
	}
}
