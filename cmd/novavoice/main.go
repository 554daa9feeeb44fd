// Command novavoice is the CLI entry point for one peer-to-peer voice-call
// endpoint. It supports both invocation styles in the same
// binary: positional P2P (`<remote_ip> <local_port> <remote_port>`) and the
// classic flagged form (`-s|--server [PORT]` / `-c|--client IP [PORT]`).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/config"
	"github.com/resulsrky/nova-voice-engine-v2/internal/preprocessor"
	"github.com/resulsrky/nova-voice-engine-v2/internal/session"
)

// defaultClassicPort is used by -s/-c when no port argument follows.
const defaultClassicPort = 7788

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses args, builds and starts a Session, blocks until a shutdown
// signal, and returns the process exit code: 0 on clean termination, 1 on
// argument/init/network failure.
func run(args []string) int {
	cfg, verbose, err := parseArgs(args)
	if err != nil {
		if err == errHelpRequested {
			return 0
		}
		fmt.Fprintln(os.Stderr, "novavoice:", err)
		return 1
	}

	log, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "novavoice: logger:", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	if err := portaudio.Initialize(); err != nil {
		log.Error("portaudio init failed", zap.Error(err))
		return 1
	}
	defer portaudio.Terminate() //nolint:errcheck

	sess, err := session.New(*cfg, log)
	if err != nil {
		log.Error("init failed", zap.Error(err))
		return 1
	}

	if err := sess.Start(); err != nil {
		log.Error("start failed", zap.Error(err))
		return 1
	}

	waitForShutdown(log)

	if err := sess.Stop(); err != nil {
		log.Error("shutdown reported an error", zap.Error(err))
	}
	return 0
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown(log *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))
}

// errHelpRequested is a sentinel error signaling -h/--help was given and
// usage was already printed; the caller should exit 0, not print err again.
var errHelpRequested = fmt.Errorf("help requested")

// parseArgs recognizes both CLI styles. The classic flagged
// style (-s/-c) takes priority when present; otherwise, three or more bare
// positional arguments are parsed as `<remote_ip> <local_port> <remote_port>`.
func parseArgs(args []string) (*session.Config, bool, error) {
	fs := pflag.NewFlagSet("novavoice", pflag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	server := fs.BoolP("server", "s", false, "run as server/listener; optional positional PORT")
	client := fs.StringP("client", "c", "", "run as client connecting to IP; optional positional PORT")
	device := fs.StringP("device", "d", "default", "audio device name")
	profile := fs.String("profile", "", "processing profile: low-latency, high-quality, power-save")
	passthrough := fs.Bool("passthrough", false, "use the pass-through codec instead of Opus")
	verbose := fs.BoolP("verbose", "v", false, "enable debug-level logging")
	help := fs.BoolP("help", "h", false, "display this help text")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *help {
		printUsage(fs)
		return nil, *verbose, errHelpRequested
	}

	preCfg, err := resolveProfile(*profile)
	if err != nil {
		return nil, *verbose, err
	}

	var opts []preprocessor.Option
	if *passthrough {
		opts = append(opts, preprocessor.WithPassthroughCodec())
	}

	rest := fs.Args()

	switch {
	case *server:
		port := defaultClassicPort
		if len(rest) > 0 {
			p, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, *verbose, fmt.Errorf("invalid port %q: %w", rest[0], err)
			}
			port = p
		}
		return &session.Config{
			Role:             session.RoleListener,
			LocalPort:        port,
			DeviceName:       *device,
			Preprocessor:     preCfg,
			PreprocessorOpts: opts,
		}, *verbose, nil

	case *client != "":
		port := defaultClassicPort
		if len(rest) > 0 {
			p, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, *verbose, fmt.Errorf("invalid port %q: %w", rest[0], err)
			}
			port = p
		}
		return &session.Config{
			Role:             session.RolePeer,
			LocalPort:        port,
			RemoteIP:         *client,
			RemotePort:       port,
			DeviceName:       *device,
			Preprocessor:     preCfg,
			PreprocessorOpts: opts,
		}, *verbose, nil

	case len(rest) >= 3:
		localPort, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, *verbose, fmt.Errorf("invalid local_port %q: %w", rest[1], err)
		}
		remotePort, err := strconv.Atoi(rest[2])
		if err != nil {
			return nil, *verbose, fmt.Errorf("invalid remote_port %q: %w", rest[2], err)
		}
		return &session.Config{
			Role:             session.RolePeer,
			LocalPort:        localPort,
			RemoteIP:         rest[0],
			RemotePort:       remotePort,
			DeviceName:       *device,
			Preprocessor:     preCfg,
			PreprocessorOpts: opts,
		}, *verbose, nil

	default:
		printUsage(fs)
		return nil, *verbose, fmt.Errorf("no valid invocation given")
	}
}

// resolveProfile maps the --profile name to a config.Config, or the
// all-enabled default when empty.
func resolveProfile(name string) (config.Config, error) {
	switch name {
	case "", "default":
		return config.Default(), nil
	case "low-latency":
		return preprocessor.LowLatency(), nil
	case "high-quality":
		return preprocessor.HighQuality(), nil
	case "power-save":
		return preprocessor.PowerSave(), nil
	default:
		return config.Config{}, fmt.Errorf("unknown --profile %q (want low-latency, high-quality, power-save)", name)
	}
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "novavoice - peer-to-peer real-time voice endpoint")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  novavoice <remote_ip> <local_port> <remote_port> [flags]")
	fmt.Fprintln(os.Stderr, "  novavoice -s|--server [PORT] [flags]")
	fmt.Fprintln(os.Stderr, "  novavoice -c|--client IP [PORT] [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	fs.PrintDefaults()
}
