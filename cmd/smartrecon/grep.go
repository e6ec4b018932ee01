package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/logging"
	"github.com/RowanDark/smartrecon/output"
	"github.com/RowanDark/smartrecon/recon"
)

// modeGrep labels reports built from URLs supplied by the user.
const modeGrep = "grep"

func newGrepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "grep [file...]",
		Short: "Classify URLs read from files or stdin",
		Long: `grep runs Smart Grep over an existing URL list, one URL per line, read
from the named files or from stdin. The report uses the same output
formats as a scan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			classifier, err := classify.New(classify.Options{ExtraExtensions: cfg.Extensions})
			if err != nil {
				return fmt.Errorf("configuring classifier: %w", err)
			}

			var inputs []io.Reader
			for _, path := range args {
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening %s: %w", path, err)
				}
				defer file.Close()
				inputs = append(inputs, file)
			}
			if len(inputs) == 0 {
				inputs = append(inputs, cmd.InOrStdin())
			}

			report, err := grepURLs(ctx, classifier, io.MultiReader(inputs...), cfg.Threads, logger)
			if errors.Is(err, context.Canceled) {
				logger.Warnf("Grep interrupted")
				return nil
			}
			if err != nil {
				return err
			}
			report.Domain = cfg.Domain

			writer, err := output.NewWriter(cfg)
			if err != nil {
				return err
			}
			defer writer.Close()
			return writer.WriteReport(report)
		},
	}
}

// grepURLs streams lines from r through the classifier. Duplicate URLs keep
// their first verdict.
func grepURLs(ctx context.Context, classifier *classify.Classifier, r io.Reader, workers int, logger *logging.Logger) (*recon.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string, workers)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- scanner.Err()
	}()

	collector := classify.NewCollector()
	for verdict := range classifier.Stream(ctx, lines, workers) {
		collector.Add(verdict)
	}
	// A reader blocked on stdin never reports back once ctx ends.
	select {
	case err := <-readErr:
		if err != nil {
			return nil, fmt.Errorf("reading urls: %w", err)
		}
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := collector.Report()
	logger.Infof("Classified %d URL(s): %d sensitive files, %d secrets, %d high-value",
		result.Summary.TotalURLs, result.Summary.SensitiveFiles, result.Summary.SecretsFound, result.Summary.HighValueURLs)

	return &recon.Report{
		Mode:      modeGrep,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Report:    result,
	}, nil
}
