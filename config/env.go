package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every flag name when looking up environment
// overrides, e.g. SMARTRECON_DNS_TIMEOUT for --dns-timeout.
const EnvPrefix = "SMARTRECON"

// ApplyEnvironment copies SMARTRECON_* environment variables onto flags the
// user did not set explicitly. Call it after ApplyProfile so the environment
// takes precedence over profile values.
func ApplyEnvironment(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	var firstErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if firstErr != nil || flag.Changed {
			return
		}
		if err := v.BindEnv(flag.Name); err != nil {
			firstErr = fmt.Errorf("binding environment for %s: %w", flag.Name, err)
			return
		}
		if !v.IsSet(flag.Name) {
			return
		}
		value := v.GetString(flag.Name)
		if err := flag.Value.Set(value); err != nil {
			firstErr = fmt.Errorf("invalid value %q for %s_%s: %w", value, EnvPrefix, envName(flag.Name), err)
		}
	})
	return firstErr
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
