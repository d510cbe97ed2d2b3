package cmd

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/restorr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing restorr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  restorr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, ./configs/config.yaml, /etc/restorr/config.yaml)
  - Environment variables (RESTORR_SERVER_PORT, RESTORR_ADMISSION_MAX_CONCURRENT, etc.)
  - Command-line flags (for some options)

Environment variables use the RESTORR_ prefix and underscores for nesting.
Example: session.ttl -> RESTORR_SESSION_TTL`,
	RunE: runConfigDump,
}

var configDumpEffective bool

func init() {
	configDumpCmd.Flags().BoolVar(&configDumpEffective, "effective", false, "dump the effective configuration (file and environment applied) instead of defaults")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations and byte sizes for humans.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case int64:
			if strings.Contains(key, "size") {
				result[key] = humanize.IBytes(uint64(v))
			} else {
				result[key] = v
			}
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func dumpConfig(w io.Writer, cfg *config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# restorr Configuration File")
	fmt.Fprintln(w, "# ===========================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 30s, 15m0s, 720h0m0s")
	fmt.Fprintln(w, "# Sizes are shown for reference; max_upload_size is set in bytes.")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   RESTORR_SERVER_HOST, RESTORR_SERVER_PORT")
	fmt.Fprintln(w, "#   RESTORR_DATABASE_DRIVER, RESTORR_DATABASE_DSN")
	fmt.Fprintln(w, "#   RESTORR_STORAGE_BASE_DIR, RESTORR_SESSION_TTL")
	fmt.Fprintln(w, "#   RESTORR_ADMISSION_MAX_CONCURRENT, RESTORR_FFMPEG_TIMEOUT")
	fmt.Fprintln(w, "#   RESTORR_LOGGING_LEVEL, RESTORR_LOGGING_FORMAT")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	_, err = w.Write(yamlData)
	return err
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configDumpEffective {
		cfg, err = config.FromViper(viper.GetViper())
	} else {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.FromViper(v)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return dumpConfig(cmd.OutOrStdout(), cfg)
}
