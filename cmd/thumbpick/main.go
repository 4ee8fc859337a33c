package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/keagan/thumbpick/internal/config"
	"github.com/keagan/thumbpick/internal/ffmpeg"
	"github.com/keagan/thumbpick/internal/logging"
	"github.com/keagan/thumbpick/internal/pipeline"
	"github.com/keagan/thumbpick/internal/server"
	"github.com/keagan/thumbpick/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "thumbpick",
	Short:         "thumbpick - pick the best thumbnails from a video",
	Long:          "Samples a video, drops near-duplicate frames, scores the rest on emotion, faces and sharpness, and writes the top frames as images.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		if err := logging.Init(logging.Options{Verbose: verbose, Format: logFormat}); err != nil {
			return err
		}

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")

	extractCmd.Flags().IntP("top-k", "k", 0, "number of thumbnails to keep (default from config)")
	extractCmd.Flags().StringP("output", "o", "", "output directory (default from config)")
	extractCmd.Flags().Int("workers", 0, "parallel scoring workers (default from config)")

	serveCmd.Flags().String("addr", "", "listen address (default from config)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract [input video]",
	Short: "Extract the best thumbnails from a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		if k, _ := cmd.Flags().GetInt("top-k"); k > 0 {
			cfg.Extraction.TopK = k
		}
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			cfg.Extraction.OutputDir = out
		}
		if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
			cfg.Extraction.Workers = w
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		pipe, err := buildPipeline(log.Logger, cfg)
		if err != nil {
			return err
		}
		defer pipe.Close()

		res := pipe.Extract(cmd.Context(), args[0])
		logger := logging.WithComponent("extract")
		if !res.OK() {
			for _, path := range res.PartialPaths {
				fmt.Printf("partial\t%s\n", path)
			}
			if len(res.PartialPaths) > 0 {
				logger.Warn().Strs("paths", res.PartialPaths).Msg("thumbnails written before failure were kept")
			}
			return res.Err
		}

		for _, th := range res.Thumbnails {
			fmt.Printf("%d\t%.4f\t%s\n", th.Rank, th.Score.Total, th.Path)
		}

		logger.Info().
			Int("thumbnails", len(res.ThumbnailPaths)).
			Int("sampled", res.Stats.Sampled).
			Int("accepted", res.Stats.Accepted).
			Str("elapsed", util.FormatDuration(res.Stats.Duration)).
			Msg("extraction complete")

		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP upload service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Models that fail to load leave the service up but refusing uploads
		var extractor server.Extractor
		pipe, err := buildPipeline(log.Logger, cfg)
		if err != nil {
			log.Error().Err(err).Msg("model loading failed, uploads disabled")
		} else {
			defer pipe.Close()
			extractor = pipe
			log.Info().Msg("models loaded")
		}

		srv, err := server.New(log.Logger, server.Options{
			MaxFileSize:       cfg.Server.MaxFileSizeMB * humanize.MiByte,
			AllowedExtensions: cfg.Server.AllowedExtensions,
			TempVideoPrefix:   cfg.Server.TempVideoPrefix,
			SniffContent:      cfg.Server.SniffContent,
			RequestTimeout:    cfg.Server.RequestTimeout,
			TaskHistory:       cfg.Server.TaskHistory,
			OutputDir:         cfg.Extraction.OutputDir,
		}, extractor)
		if err != nil {
			return err
		}

		return srv.ListenAndServe(cmd.Context(), cfg.Server.Addr)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Show video metadata and the sampling stride",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := ffmpeg.New(log.Logger, cfg.FFmpegOptions())
		if err != nil {
			return err
		}

		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		size := "unknown"
		if st, err := os.Stat(args[0]); err == nil {
			size = humanize.Bytes(uint64(st.Size()))
		}

		step := pipeline.Step(info.FrameCount, cfg.Extraction.SampleDensity)
		fmt.Printf("file:       %s (%s)\n", info.FilePath, size)
		fmt.Printf("format:     %s / %s\n", info.FormatName, info.VideoCodec)
		fmt.Printf("resolution: %dx%d @ %.3f fps\n", info.Width, info.Height, info.FPS)
		fmt.Printf("duration:   %s\n", util.FormatDuration(info.Duration))
		fmt.Printf("frames:     %s\n", humanize.Comma(int64(info.FrameCount)))
		fmt.Printf("sampling:   every %d frame(s), about %s samples\n", step, humanize.Comma(int64((info.FrameCount+step-1)/step)))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if src := cfg.Source(); src != "" {
			log.Info().Str("path", src).Msg("loaded config file")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if util.FileExists(args[0]) {
			return fmt.Errorf("%s already exists", args[0])
		}
		if err := config.Default().Save(args[0]); err != nil {
			return err
		}
		log.Info().Str("path", args[0]).Msg("config written")
		return nil
	},
}
