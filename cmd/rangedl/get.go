package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apoorvam/goterminal"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/engine"
)

type getOptions struct {
	connections int
	outDir      string
	name        string
	headers     []string
}

func newGetCmd(root *rootOptions) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Download a single file",
		Example: `  rangedl get -c 16 -o ~/Downloads https://example.com/file.iso
  rangedl get -H 'Authorization: Bearer xyz' https://example.com/private.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), root, opts, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.connections, "connections", "c", 0, "number of segments (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "output file name (default from URL)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "extra request header 'Key: Value' (repeatable)")

	return cmd
}

func runGet(ctx context.Context, root *rootOptions, opts *getOptions, url string) error {
	appCtx, err := root.bootstrap()
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config.Download
	if opts.connections == 0 {
		opts.connections = cfg.Connections
	}
	if opts.outDir == "" {
		opts.outDir = cfg.OutDir
	}
	if err := os.MkdirAll(opts.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	header, err := parseHeaders(opts.headers)
	if err != nil {
		return err
	}

	// Ctrl+C pauses; running the same command again resumes from the sidecar.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := goterminal.New(os.Stdout)
	started := time.Now()
	var finalPath string

	dl := engine.NewDownload(appCtx.Transport, appCtx.Logger, url, engine.Options{
		Connections:      opts.connections,
		SaveDirectory:    opts.outDir,
		Filename:         opts.name,
		Header:           header,
		ThrottleInterval: cfg.ThrottleInterval,
		SpeedSamples:     cfg.SpeedSamples,
		ResumeStagger:    cfg.ResumeStagger,
		SpeedLimit:       cfg.SpeedLimit,
		Handler: func(ev engine.Event) {
			switch ev.Type {
			case engine.EventData:
				renderProgress(writer, ev.Job, time.Since(started))
				if ev.Job.Status == domain.StatusFailed {
					cancel()
				}
			case engine.EventEnd:
				finalPath = ev.Path
			}
		},
	})

	if err := dl.Start(ctx); err != nil {
		return err
	}

	err = dl.Wait()
	writer.Reset()

	switch {
	case err == nil:
		fmt.Printf("Saved %s\n", finalPath)
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Println("Paused. Run the same command again to resume.")
		return nil
	default:
		return err
	}
}

func renderProgress(writer *goterminal.Writer, job domain.Job, elapsed time.Duration) {
	writer.Clear()

	fmt.Fprintf(
		writer,
		"%s: (%s/%s) %.1f%% | Time: %s | Speed: %s/s | Segments: %d | %s\n",
		job.Filename,
		humanize.Bytes(uint64(job.Complete)),
		humanize.Bytes(uint64(job.Filesize)),
		job.Progress,
		elapsed.Round(time.Second),
		humanize.Bytes(uint64(job.Speed)),
		job.Threads,
		job.Status,
	)

	writer.Print()
}

func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	header := make(http.Header, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: header %q is not 'Key: Value'", domain.ErrInvalidInput, h)
		}
		header.Add(key, strings.TrimSpace(value))
	}
	return header, nil
}
