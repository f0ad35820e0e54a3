package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/durable-streams/osfinger"
	"github.com/durable-streams/osfinger/internal/config"
	"github.com/durable-streams/osfinger/internal/pager"
	"github.com/durable-streams/osfinger/internal/target"
)

type options struct {
	configPath  string
	debug       bool
	lnav        string
	host        string
	port        int
	bufferLimit int
	idleTimeout time.Duration
	retryDelay  time.Duration
	maxRetries  int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "osfinger [flags] BUILD",
		Short: "Watch a Zuul build console live",
		Long: `Watch a Zuul build console live from the terminal.

BUILD is a build UUID or a console stream URL containing /stream/<build>.
Dropped connections are resumed without repeating text already shown.
The console is piped to lnav when it is installed; pass --lnav= to print
to standard output instead.`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}
			return follow(cmd.Context(), cfg, args[0], stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $"+config.EnvPath+" or ~/.config/osfinger/config.yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "enable verbose debug logging")
	flags.StringVar(&opts.lnav, "lnav", "", "pipe to this lnav binary (empty disables; default is lnav on PATH)")
	flags.StringVar(&opts.host, "host", "", "host for bare build identifiers (default "+target.DefaultHost+")")
	flags.IntVar(&opts.port, "port", 0, "finger port (default 79)")
	flags.IntVar(&opts.bufferLimit, "buffer-limit", 0, "bytes held to reassemble split characters (default 1024)")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "reconnect after a connection is silent this long (0 waits forever)")
	flags.DurationVar(&opts.retryDelay, "retry-delay", 0, "initial delay between reconnects (0 reconnects immediately)")
	flags.IntVar(&opts.maxRetries, "max-retries", 0, "give up after this many consecutive failed reconnects (0 never gives up)")

	return cmd
}

// loadConfig reads the config file and applies flags that were set.
func loadConfig(opts *options, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadDefault(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.debug {
		cfg.LogLevel = "debug"
	}
	if flags.Changed("lnav") {
		cfg.Lnav = &opts.lnav
	}
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("buffer-limit") {
		cfg.BufferLimit = opts.bufferLimit
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = opts.idleTimeout
	}
	if flags.Changed("retry-delay") {
		cfg.Retry.InitialDelay = opts.retryDelay
	}
	if flags.Changed("max-retries") {
		cfg.Retry.MaxRetries = opts.maxRetries
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		lvl,
	)
	return zap.New(core).Named("osfinger"), nil
}

// follow streams the build named by arg until it finishes or the user
// interrupts. An interrupt is a normal exit.
func follow(ctx context.Context, cfg *config.Config, arg string, stdout, stderr io.Writer) (err error) {
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tgt, err := target.Parse(arg, cfg.Host)
	if err != nil {
		return err
	}
	if !target.LooksLikeBuild(tgt.Build) {
		logger.Warn("build identifier does not look like a UUID", zap.String("build", tgt.Build))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink io.Writer = stdout
	if lnav := cfg.LnavPath(); lnav != "" {
		p, err := pager.Start(lnav, stdout, stderr)
		if err != nil {
			return err
		}
		logger.Debug("piping to viewer", zap.String("lnav", lnav))
		defer func() {
			err = multierr.Append(err, p.Close())
		}()
		sink = p
	}

	client := osfinger.NewClient(
		osfinger.WithPort(cfg.Port),
		osfinger.WithBufferLimit(cfg.BufferLimit),
		osfinger.WithDialTimeout(cfg.DialTimeout),
		osfinger.WithIdleTimeout(cfg.IdleTimeout),
		osfinger.WithLogger(logger),
		osfinger.WithRetryPolicy(osfinger.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}),
	)
	stream := client.Stream(tgt.Host, tgt.Build)

	logger.Debug("following build",
		zap.String("addr", stream.Addr()),
		zap.String("build", stream.Build()))

	pos, err := stream.Follow(ctx, sink)
	if errors.Is(err, context.Canceled) {
		logger.Debug("interrupted", zap.Int64("position", int64(pos)))
		return nil
	}
	return err
}
