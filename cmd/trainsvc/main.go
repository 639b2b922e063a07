package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conceptmaps/trainsvc/internal/log"
	"github.com/conceptmaps/trainsvc/internal/model"
)

var (
	userConfigPath string // /default/config/path/trainsvc on given OS
	configPath     string // actual config file used
	config         model.Config
	logOutput      io.WriteCloser

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "trainsvc")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is trainsvc.yaml in "+userConfigPath+" or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	serveCmd.Flags().String("listen", "", "address to listen on, overrides service.listen")
	if err := viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("trainsvc")
	if err := viper.BindEnv("listen"); err != nil {
		panic(err)
	}
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to print")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initTrainsvc
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logOutput != nil {
			_ = logOutput.Close()
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("trainsvc failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "trainsvc",
	Short:        "Supervisor of NLP model training runs",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the training HTTP API",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var convertCmd = &cobra.Command{
	Use:   "convert <training-data.json> <dir>",
	Short: "convert relation training data into the corpus files in dir",
	Args:  cobra.ExactArgs(2),
	RunE:  doConvert,
}

var historyCmd = &cobra.Command{
	Use:   "history [job-type]",
	Short: "print recorded training runs as JSON lines",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a trainsvc",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("trainsvc: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("trainsvc: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initTrainsvc(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("TRAINSVCCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "trainsvc.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, "trainsvc.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	out, err := log.Output(config.Service.Log)
	if err != nil {
		return err
	}
	logOutput = out
	slog.SetDefault(log.New(out, config.Service.Verbose))

	slog.Debug("trainsvc run", "configPath", configPath)
	slog.Debug("trainsvc run", "config", config)
	return nil
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return *cfg, nil
}

func storeConfig(path string, cfg model.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// withAttrs tags every log record of a command.
func withAttrs(ctx context.Context, name string) context.Context {
	return log.ContextAttrs(ctx, slog.Group("trainsvc",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	))
}
