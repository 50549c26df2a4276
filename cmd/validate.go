package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"domainop/internal/config"
	"domainop/internal/reconciler"
	"domainop/pkg/logging"
	stringutil "domainop/pkg/strings"
)

const (
	categoryConfig  = "config"
	categoryDomains = "domains"
)

type validateOptions struct {
	configPath string
	path       string
	verbose    bool
}

// newValidateCmd creates the command that checks config.yaml and the Domain
// manifests without touching a cluster.
func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and Domain manifests",
		Long: `Loads config.yaml and every manifest in {path}/domains and reports files
that cannot be decoded or describe an invalid Domain. No cluster is contacted.

Exits with a non-zero status when any file is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Custom configuration directory path")
	cmd.Flags().StringVar(&opts.path, "path", "", "Manifest directory (defaults to reconciler.path)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print a detailed report for every error")

	return cmd
}

func runValidate(out io.Writer, opts *validateOptions) error {
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	errs := config.NewConfigurationErrorCollection()

	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	dc, err := config.LoadConfig(configPath)
	if err != nil {
		file := filepath.Join(configPath, "config.yaml")
		errs.Add(config.NewConfigurationError(file, "config.yaml", categoryConfig, "validation", err.Error()))
		dc = config.GetDefaultConfig()
	}

	path := opts.path
	if path == "" {
		path = dc.Reconciler.Path
	}
	if path == "" {
		return fmt.Errorf("no manifest directory: set --path or reconciler.path")
	}
	namespace := dc.Reconciler.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}

	checks, err := reconciler.NewFileSource(path, namespace).Check()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"FILE", "DOMAIN", "UID", "CLUSTERS", "STATUS", "MESSAGE"})

	for _, check := range checks {
		fileName := filepath.Base(check.FilePath)
		problem := check.Err
		errorType := "parse"
		if problem == nil {
			problem = check.Domain.Validate()
			errorType = "validation"
		}

		if problem != nil {
			errs.Add(config.ConfigurationError{
				FilePath:    check.FilePath,
				FileName:    fileName,
				Category:    categoryDomains,
				ErrorType:   errorType,
				Message:     problem.Error(),
				Suggestions: suggestionsFor(errorType),
			})
			t.AppendRow(table.Row{fileName, "-", "-", "-", text.FgRed.Sprint("invalid"),
				stringutil.SingleLine(problem.Error(), stringutil.DefaultMessageMaxLen)})
			continue
		}

		d := check.Domain
		t.AppendRow(table.Row{fileName, d.Key(), d.UID(), len(d.Spec.Clusters), text.FgGreen.Sprint("ok"), ""})
	}

	if len(checks) == 0 {
		fmt.Fprintf(out, "%s No manifests found in %s\n", text.FgYellow.Sprint("!"), filepath.Join(path, "domains"))
	} else {
		t.Render()
	}

	if !errs.HasErrors() {
		fmt.Fprintf(out, "%s %d manifest(s) valid\n", text.FgGreen.Sprint("✓"), len(checks))
		return nil
	}

	if opts.verbose {
		fmt.Fprintln(out, errs.GetDetailedReport())
	} else {
		printSummary(out, errs)
	}
	return errs
}

// printSummary lists the errors grouped by category, config first.
func printSummary(out io.Writer, errs *config.ConfigurationErrorCollection) {
	for _, category := range []string{categoryConfig, categoryDomains} {
		found := errs.GetErrorsByCategory(category)
		if len(found) == 0 {
			continue
		}
		fmt.Fprintf(out, "%s %s: %d error(s)\n", text.FgRed.Sprint("✗"), category, len(found))
		for _, e := range found {
			fmt.Fprintf(out, "  %s: %s\n", e.FileName, stringutil.SingleLine(e.Message, 200))
		}
	}
}

func suggestionsFor(errorType string) []string {
	switch errorType {
	case "parse":
		return []string{"check the YAML syntax", "compare the file with 'kubectl explain domain.spec'"}
	default:
		return []string{"fix the field named in the message"}
	}
}
