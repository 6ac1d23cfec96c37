package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/neuroplastio/neio-remote/internal/command"
	"github.com/neuroplastio/neio-remote/internal/configsvc"
	"github.com/neuroplastio/neio-remote/internal/inputdev"
	"github.com/neuroplastio/neio-remote/pkg/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "neio-remote", "config.yml"), os.LookupEnv)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type configProvider func() agent.Config

func NewRootCmd(defaultConfigPath string, lookupEnv func(string) (string, bool)) *cobra.Command {
	cfg := agent.DefaultConfig()
	configPath := defaultConfigPath
	rootCmd := &cobra.Command{
		Use:   "neio-remote",
		Short: "Forward remote control key presses to an HTTP event sink",
		Long: `neio-remote reads key events from a Linux input device (typically a Bluetooth remote)
and fires one HTTP event per key press, release and repeat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", configPath, "config file")
	flags.StringVar(&cfg.EndpointBaseURL, "endpoint", cfg.EndpointBaseURL, "event sink base URL, e.g. http://hass:8123/api/")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "bearer token for the event sink")
	flags.StringVar(&cfg.EventName, "event-name", cfg.EventName, "name of the fired event")
	flags.StringVar(&cfg.DevicePathPrefix, "device-prefix", cfg.DevicePathPrefix, "prefix prepended to the device argument")
	flags.BoolVar(&cfg.GrabDevice, "grab", cfg.GrabDevice, "grab the device exclusively")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console|json)")
	flags.DurationVar(&cfg.RequestTimeout.Duration, "request-timeout", cfg.RequestTimeout.Duration, "timeout of a single event request")
	flags.DurationVar(&cfg.ShutdownGrace.Duration, "shutdown-grace", cfg.ShutdownGrace.Duration, "how long an in-flight request may finish on shutdown")
	flags.DurationVar(&cfg.WaitForDevice.Duration, "wait-for-device", cfg.WaitForDevice.Duration, "wait this long for the device node to appear")
	flags.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "number of key events read ahead of delivery")
	flags.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "log events instead of firing them")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Flags win over the environment, which wins over the config file.
		changed := make(map[string]string)
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed[f.Name] = f.Value.String()
		})
		loaded, err := configsvc.Load(configPath, agent.DefaultConfig(), !cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if err := loaded.ApplyEnv(lookupEnv); err != nil {
			return err
		}
		cfg = loaded
		for name, value := range changed {
			if err := cmd.Flags().Set(name, value); err != nil {
				return fmt.Errorf("failed to apply flag --%s: %w", name, err)
			}
		}
		return nil
	}
	provider := func() agent.Config {
		return cfg
	}
	rootCmd.AddCommand(NewRun(provider))
	rootCmd.AddCommand(NewListDevices())
	rootCmd.AddCommand(NewClassify(provider))
	rootCmd.AddCommand(NewConfig(&configPath, provider))
	return rootCmd
}

func NewRun(config configProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run <device>",
		Short: "Forward key events of a device",
		Long: `Open <device>, appended to the device prefix unless it is an absolute path,
and fire an event for every key press, release and repeat until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			if len(args) == 1 {
				cfg.Device = args[0]
			}
			a, err := agent.NewAgent(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}

func NewListDevices() *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List input devices",
		Long:  `List evdev input devices known to udev.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := inputdev.List()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewClassify(config configProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <device>",
		Short: "Print key commands read from a device",
		Long: `Print every key command read from <device> as a JSON line without firing events.
Useful to find out which keys a remote sends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			cfg.Device = args[0]
			log, err := agent.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer log.Sync()

			dev, err := inputdev.Open(log.Named("device"), cfg.DevicePath())
			if err != nil {
				return err
			}
			if cfg.GrabDevice {
				if err := dev.Grab(); err != nil {
					dev.Close()
					return err
				}
			}
			stop := context.AfterFunc(cmd.Context(), func() {
				dev.Close()
			})
			defer stop()
			defer dev.Close()
			log.Info("Reading device", zap.String("device", dev.Path()), zap.String("name", dev.Name()))
			return printCommands(cmd.Context(), dev, cmd.OutOrStdout())
		},
	}
}

func printCommands(ctx context.Context, dev inputdev.Device, out io.Writer) error {
	enc := json.NewEncoder(out)
	for {
		ev, err := dev.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cmd, ok := command.Classify(ev)
		if !ok {
			continue
		}
		if err := enc.Encode(cmd); err != nil {
			return err
		}
	}
}

func NewConfig(configPath *string, config configProvider) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		// The file being created may not exist or parse yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			err := configsvc.Write(*configPath, agent.DefaultConfig(), force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Long:  `Print the config after applying the config file, environment and flags. The API key is redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			if cfg.APIKey != "" {
				cfg.APIKey = "<redacted>"
			}
			yamlB, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(yamlB)
			return err
		},
	}
	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}
