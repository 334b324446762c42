package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/EnvelopeHack/video-streamer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing video-streamer configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

With no config file or overrides this is the full set of defaults, so the
output can be redirected to create a configuration template:

  video-streamer config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, ./configs/config.yaml, /etc/video-streamer/config.yaml)
  - Environment variables (VSTREAM_SERVER_PORT, VSTREAM_STREAM_CHUNK_SIZE, etc.)
  - Command-line flags (for some options)

Environment variables use the VSTREAM_ prefix and underscores for nesting.
Example: stream.chunk_delay -> VSTREAM_STREAM_CHUNK_DELAY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and byte sizes rendered the way they are written in config files.
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
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
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

func runConfigDump(cmd *cobra.Command, _ []string) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# video-streamer Configuration File")
	fmt.Fprintln(w, "# ==================================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 50ms, 1s, 720h")
	fmt.Fprintln(w, "# Size format: 256KiB, 4MiB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   VSTREAM_SERVER_HOST, VSTREAM_SERVER_PORT")
	fmt.Fprintln(w, "#   VSTREAM_MEDIA_PATH, VSTREAM_STREAM_PRIME_SIZE")
	fmt.Fprintln(w, "#   VSTREAM_DATABASE_DRIVER, VSTREAM_DATABASE_DSN")
	fmt.Fprintln(w, "#   VSTREAM_LOGGING_LEVEL, VSTREAM_LOGGING_FORMAT")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	fmt.Fprint(w, string(yamlData))
	return nil
}
