package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/internal/repository"
	"github.com/noah-isme/tale-download-api/internal/service"
	"github.com/noah-isme/tale-download-api/pkg/config"
	"github.com/noah-isme/tale-download-api/pkg/convert"
	"github.com/noah-isme/tale-download-api/pkg/database"
	"github.com/noah-isme/tale-download-api/pkg/fetch"
)

type buildOptions struct {
	records     string
	project     string
	output      string
	concurrency int
}

func newBuildCommand(a *app) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a document archive",
		Long: `Build a ZIP archive from a JSON array of document records or from every
document of a warehouse project. The archive goes to --output or stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBuild(ctx, a, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.records, "records", "r", "", "JSON file with document records")
	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "warehouse project code")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "archive path (default stdout)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "parallel downloads (default from config)")
	cmd.MarkFlagsMutuallyExclusive("records", "project")
	cmd.MarkFlagsOneRequired("records", "project")
	return cmd
}

func runBuild(ctx context.Context, a *app, opts *buildOptions, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr := a.log()

	fetcher := fetch.NewClient(fetch.ClientConfig{
		MaxAttempts:    cfg.Download.MaxAttempts,
		DefaultTimeout: cfg.Download.DefaultTimeout,
		MaxFileSize:    cfg.Download.MaxFileSizeBytes,
		ProbeSize:      cfg.Download.ProbeSize,
		UserAgent:      cfg.Download.UserAgent,
	}, nil, logr)
	converter := convert.NewConverter(convert.Config{
		MaxWidth:    cfg.Packager.ImageMaxW,
		MaxHeight:   cfg.Packager.ImageMaxH,
		JPEGQuality: cfg.Packager.JPEGQuality,
	}, logr)

	var records []models.DocumentRecord
	if opts.records != "" {
		records, err = readRecords(opts.records)
	} else {
		records, err = projectRecords(ctx, cfg, opts.project, fetcher, converter, logr)
	}
	if err != nil {
		return err
	}

	concurrency := cfg.Packager.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	packager := service.NewPackageService(fetcher, converter, service.PackageConfig{Concurrency: concurrency}, nil, logr)

	out := stdout
	var file *os.File
	if opts.output != "" {
		file, err = os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		out = file
	}

	result, err := packager.Build(ctx, records, out)
	if file != nil {
		closeErr := file.Close()
		if err != nil {
			_ = os.Remove(opts.output)
		} else if closeErr != nil {
			return fmt.Errorf("close output: %w", closeErr)
		}
	}
	if err != nil {
		return err
	}

	logr.Info("archive written",
		zap.String("output", outputName(opts.output)),
		zap.Int("documents", result.Documents),
		zap.Int("folders", result.Folders),
		zap.Int("failures", len(result.Failures)),
	)
	for _, failure := range result.Failures {
		logr.Warn("document not packaged",
			zap.String("record", failure.RecordID),
			zap.String("reason", failure.Reason),
		)
	}
	return nil
}

func readRecords(path string) ([]models.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []models.DocumentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	return records, nil
}

func projectRecords(ctx context.Context, cfg *config.Config, project string, fetcher *fetch.Client, converter *convert.Converter, logr *zap.Logger) ([]models.DocumentRecord, error) {
	db, err := database.NewRedshift(ctx, cfg.Redshift)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	defer db.Close()

	repo := repository.NewDocumentRepository(db)
	repo.SetQueryTimeout(cfg.Redshift.QueryTimeout)
	documents := service.NewDocumentService(repo, fetcher, converter, nil, validator.New(), service.DocumentServiceConfig{
		MaxRecords: cfg.Packager.MaxRecords,
	}, logr)
	return documents.ProjectRecords(ctx, strings.TrimSpace(project))
}

func outputName(path string) string {
	if path == "" {
		return "stdout"
	}
	return path
}
