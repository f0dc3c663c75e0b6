package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/maestro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify maestro configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/maestro/config.yaml
Project-specific overrides can be placed in .maestro.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.bedrock: %t\n", cfg.Anthropic.Bedrock)
	fmt.Printf("anthropic.aws_region: %s\n", cfg.Anthropic.AWSRegion)
	fmt.Printf("anthropic.aws_profile: %s\n", cfg.Anthropic.AWSProfile)
	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)
	fmt.Printf("server.signals_dir: %s\n", cfg.Server.SignalsDir)
	fmt.Printf("runs.retire_grace: %s\n", cfg.Runs.RetireGrace)
	fmt.Printf("runs.subscriber_buffer: %d\n", cfg.Runs.SubscriberBuffer)
	fmt.Printf("retrieval.enabled: %t\n", cfg.Retrieval.Enabled)
}

func displayConfigKey(cfg *config.Config, key string) {
	switch key {
	case "anthropic.api_key":
		fmt.Println(config.MaskAPIKey(cfg.Anthropic.APIKey))
	case "anthropic.model":
		fmt.Println(cfg.Anthropic.Model)
	case "anthropic.bedrock":
		fmt.Println(cfg.Anthropic.Bedrock)
	case "anthropic.aws_region":
		fmt.Println(cfg.Anthropic.AWSRegion)
	case "anthropic.aws_profile":
		fmt.Println(cfg.Anthropic.AWSProfile)
	case "server.addr":
		fmt.Println(cfg.Server.Addr)
	case "server.signals_dir":
		fmt.Println(cfg.Server.SignalsDir)
	case "runs.retire_grace":
		fmt.Println(cfg.Runs.RetireGrace)
	case "runs.subscriber_buffer":
		fmt.Println(cfg.Runs.SubscriberBuffer)
	case "retrieval.enabled":
		fmt.Println(cfg.Retrieval.Enabled)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
}

func setConfigKey(cfg *config.Config, key, value string) {
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid boolean: %s\n", value)
			os.Exit(1)
		}
		cfg.Anthropic.Bedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "server.addr":
		cfg.Server.Addr = value
	case "server.signals_dir":
		cfg.Server.SignalsDir = value
	case "runs.retire_grace":
		d, err := time.ParseDuration(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid duration: %s\n", value)
			os.Exit(1)
		}
		cfg.Runs.RetireGrace = d
	case "runs.subscriber_buffer":
		n, err := strconv.Atoi(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid integer: %s\n", value)
			os.Exit(1)
		}
		cfg.Runs.SubscriberBuffer = n
	case "retrieval.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid boolean: %s\n", value)
			os.Exit(1)
		}
		cfg.Retrieval.Enabled = b
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s\n", key)
}
