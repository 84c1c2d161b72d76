package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"vidproxy/pkg/cli"
	"vidproxy/pkg/services"
	"vidproxy/pkg/types"
	"vidproxy/pkg/unpacker"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and stream proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(os.Stdout)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer application.Shutdown()

			return application.Run(cmd.Context())
		},
	}
}

func newScrapeCmd() *cobra.Command {
	var (
		asJSON   bool
		variants int
	)
	cmd := &cobra.Command{
		Use:   "scrape <videoId>",
		Short: "Scrape a video and print its sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := stderrApp()
			if err != nil {
				return err
			}
			defer application.Shutdown()

			ctx := cmd.Context()
			d, err := application.Ctx.Videos.Scrape(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, d)
			}
			cli.RenderDescriptor(out, d)

			if variants < 0 {
				return nil
			}
			info, err := application.Ctx.Proxy.Inspect(ctx, d, variants)
			if err != nil {
				return fmt.Errorf("inspect source %d: %w", variants, err)
			}
			fmt.Fprintln(out)
			if info.Master {
				cli.RenderVariants(out, info.Variants)
			} else if info.Media != nil {
				fmt.Fprintf(out, "media playlist: %d segments, %.1fs\n", info.Media.Segments, info.Media.TotalDuration)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the descriptor as JSON")
	cmd.Flags().IntVar(&variants, "variants", -1, "also list the renditions of this source index")
	return cmd
}

func newUnpackCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "unpack [file]",
		Short: "Decode a packed script or the packed script of an HTML page",
		Long: "Reads a file, or stdin when no file is given. HTML input is searched for its\n" +
			"packed player script; any other input is decoded as a script.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				input []byte
				err   error
			)
			if len(args) == 1 && args[0] != "-" {
				input, err = os.ReadFile(args[0])
			} else {
				input, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			code := string(input)
			if script, ok := services.FindPackedScript(code); ok {
				code = script
			}

			if raw {
				decoded, err := unpacker.Decode(code)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), decoded)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), unpacker.Unpack(code))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the decoded text without reformatting, failing on non-packed input")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var source int
	cmd := &cobra.Command{
		Use:   "download <videoId>",
		Short: "Download a video with ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := stderrApp()
			if err != nil {
				return err
			}
			defer application.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticket, err := application.Ctx.Downloads.Start(ctx, args[0], source)
			if err != nil {
				return err
			}

			final, err := cli.Watch(ctx, cmd.ErrOrStderr(), ticket.Job(), ticket.FileName)
			if errors.Is(err, context.Canceled) {
				return errors.New("download interrupted")
			}
			if err != nil {
				return err
			}
			if final.Status != types.DownloadStatusCompleted {
				return fmt.Errorf("download failed: %s", final.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), final.OutputPath)
			return nil
		},
	}
	cmd.Flags().IntVarP(&source, "source", "s", 0, "index of the source to download")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
