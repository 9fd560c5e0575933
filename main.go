package main

import (
	"ObjDetector/config"
	"ObjDetector/fetch"
	"ObjDetector/logger"
	"ObjDetector/monitor"
	"ObjDetector/service"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// highgui must be driven from the thread that created the window.
func init() {
	runtime.LockOSThread()
}

func main() {
	app := &cli.App{
		Name:  "objdetector",
		Usage: "detect objects in an image, a video file or a live camera feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultConfigPath,
				Usage:   "YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "model file or http(s) URL, overrides model.path",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "development logging at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "image",
				Usage:     "run detection once on a still image",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "show", Usage: "display the annotated image until a key is pressed"}},
				Action: func(c *cli.Context) error {
					path, err := pathArg(c)
					if err != nil {
						return err
					}
					return run(c, func(ctx context.Context, svc *service.DetectorService, _ *config.Config) error {
						return svc.ReadImage(ctx, path, c.Bool("show"))
					})
				},
			},
			{
				Name:      "video",
				Usage:     "run detection on every frame of a video file",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "show", Usage: "display annotated frames, ESC stops"}},
				Action: func(c *cli.Context) error {
					path, err := pathArg(c)
					if err != nil {
						return err
					}
					return run(c, func(ctx context.Context, svc *service.DetectorService, _ *config.Config) error {
						return svc.ReadVideo(ctx, path, c.Bool("show"))
					})
				},
			},
			{
				Name:  "webcam",
				Usage: "stream a camera with live detection, ESC stops",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "device", Usage: "camera index, overrides capture.device"},
					&cli.IntFlag{Name: "width", Usage: "requested frame width"},
					&cli.IntFlag{Name: "height", Usage: "requested frame height"},
				},
				Action: func(c *cli.Context) error {
					return run(c, func(ctx context.Context, svc *service.DetectorService, cfg *config.Config) error {
						res := cfg.Capture.Resolution
						if c.IsSet("width") {
							res.Width = c.Int("width")
						}
						if c.IsSet("height") {
							res.Height = c.Int("height")
						}
						return svc.ReadWebcam(ctx, res)
					}, webcamOverrides(c))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func pathArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("%s: expected exactly one PATH argument", c.Command.Name), 1)
	}
	return c.Args().First(), nil
}

func webcamOverrides(c *cli.Context) func(*config.Config) {
	return func(cfg *config.Config) {
		if c.IsSet("device") {
			cfg.Capture.Device = c.Int("device")
		}
	}
}

type modeFunc func(ctx context.Context, svc *service.DetectorService, cfg *config.Config) error

func run(c *cli.Context, mode modeFunc, overrides ...func(*config.Config)) (err error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("model") {
		cfg.Model.ModelPath = c.String("model")
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.Bool("debug") {
		cfg.Log = logger.Options{Level: "debug", Development: true}
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fetch.IsRemote(cfg.Model.ModelPath) {
		local, err := fetch.New(cfg.Model.CacheDir).Model(ctx, cfg.Model.ModelPath)
		if err != nil {
			return err
		}
		cfg.Model.ModelPath = local
	}

	var opts []service.Option
	if cfg.Monitor.Port > 0 {
		metrics := monitor.NewMetrics()
		opts = append(opts, service.WithMetrics(metrics))
		go func() {
			if err := metrics.StartMon(ctx, cfg.Monitor.Port); err != nil {
				logger.Log().Error("Monitor stopped", zap.Error(err))
			}
		}()
	}

	svc, err := service.NewFromConfig(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, svc.Close()) }()
	if strings.EqualFold(cfg.Model.Backend, "cuda") {
		logger.Log().Info("Using GPU, warming up")
		svc.Warmup(3)
	}

	err = mode(ctx, svc, cfg)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printBanner(cfg *config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" Model:", cfg.Model.ModelPath)
	fmt.Printf(" Threshold: %.2f\n", cfg.Model.Threshold)
	if cfg.Monitor.Port > 0 {
		fmt.Println(" Monitor Port:", cfg.Monitor.Port)
	}
	fmt.Println(strings.Repeat("#", 64))
}
