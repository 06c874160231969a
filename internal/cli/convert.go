package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/debooklet/internal/config"
	"github.com/local/debooklet/internal/convert"
	"github.com/local/debooklet/internal/storage"
)

func newConvertCommand(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert booklet PDF back to normal page order",
		Long: "Input may be a local path, file://, http(s):// or s3:// reference. " +
			"Output may be a local path or an s3:// URL.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, g, args[0], args[1], timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the conversion after this long (0 = no limit)")
	return cmd
}

func runConvert(cmd *cobra.Command, g *globalFlags, input, output string, timeout time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reading booklet PDF from: %s\n", input)

	var rep *convert.Report
	var loc string
	if isLocal(input) && isLocal(output) {
		path := strings.TrimPrefix(output, "file://")
		r, err := convert.ConvertFile(ctx, strings.TrimPrefix(input, "file://"), path)
		if err != nil {
			return err
		}
		rep, loc = r, path
	} else {
		var s3c *storage.S3Client
		if strings.HasPrefix(input, "s3://") || strings.HasPrefix(output, "s3://") {
			c, err := newS3Client(ctx, g.cfg.Storage)
			if err != nil {
				return err
			}
			s3c = c
		}
		fetcher := &storage.Fetcher{HTTP: &http.Client{Timeout: g.cfg.Worker.FetchTimeout}}
		results := &storage.Results{}
		if s3c != nil {
			fetcher.S3 = s3c
			results.S3 = s3c
		}

		data, err := fetcher.Fetch(ctx, input)
		if err != nil {
			return err
		}
		pdf, r, err := convert.ConvertBytes(ctx, data)
		if err != nil {
			return err
		}
		if loc, err = results.Save(ctx, "cli", pdf, output); err != nil {
			return err
		}
		rep = r
	}

	fmt.Fprintf(out, "Booklet had %d sheets (%d logical pages)\n", rep.Sheets, rep.Pages)
	fmt.Fprintf(out, "Saved debooklet PDF to: %s (%s)\n", loc, rep.Duration.Round(time.Millisecond))
	return nil
}

func isLocal(ref string) bool {
	return !strings.HasPrefix(ref, "s3://") &&
		!strings.HasPrefix(ref, "http://") &&
		!strings.HasPrefix(ref, "https://")
}

func newS3Client(ctx context.Context, sc config.StorageConfig) (*storage.S3Client, error) {
	c, err := storage.NewS3Client(ctx, storage.S3Options{
		Region:          sc.S3Region,
		Endpoint:        sc.S3Endpoint,
		AccessKeyID:     sc.S3AccessKey,
		SecretAccessKey: sc.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("region", sc.S3Region).Str("endpoint", sc.S3Endpoint).Msg("s3 client ready")
	return c, nil
}
