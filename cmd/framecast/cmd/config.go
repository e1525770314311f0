package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/pkg/bytesize"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting framecast configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to create a configuration template:

  framecast config dump > framecast.yaml

Environment variables use the FRAMECAST_ prefix and underscores for nesting.
Example: writer.codec -> FRAMECAST_WRITER_CODEC`,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Load the config file and environment, validate them and print the result.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(cmd, appConfig, "# framecast effective configuration")
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd, configShowCmd)
}

// toMap converts a config struct to a map keyed by its yaml tags, formatting
// durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case bytesize.Size:
			result[key] = bytesize.Format(v)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(v)
			} else {
				result[key] = v
			}
		}
	}
	return result
}

func writeConfig(cmd *cobra.Command, cfg *config.Config, header string) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, "# Durations: 5ms, 30s, 1m30s. Sizes: 256KB, 8MB.")
	fmt.Fprintln(out)
	_, err = out.Write(data)
	return err
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Default()
	if err != nil {
		return err
	}
	return writeConfig(cmd, cfg, "# framecast configuration defaults")
}
