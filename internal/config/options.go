// Package config implements spec §6's recognised configuration
// options (check, debug, incremental, inline_source_map, lib,
// maybe_config), following the teacher's viper-backed Config pattern
// (internal/config.Config) but scoped to this module's own option
// surface rather than turborepo's remote-cache/auth configuration.
package config

import (
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options is spec §6's "Configuration (recognised options)" table.
type Options struct {
	// Check runs type-check before emit. Default true.
	Check bool `mapstructure:"check"`
	// Debug turns on compiler-verbose logging.
	Debug bool `mapstructure:"debug"`
	// Incremental enables use of incremental build info.
	Incremental bool `mapstructure:"incremental"`
	// InlineSourceMap embeds source maps rather than writing a
	// sidecar. Default true (embed).
	InlineSourceMap bool `mapstructure:"inline_source_map"`
	// Lib lists the selected type libraries.
	Lib []string `mapstructure:"lib"`
	// MaybeConfig is raw tsconfig-shaped augmentation; unrecognised
	// keys are reported (via Unused below) rather than erroring.
	MaybeConfig map[string]interface{} `mapstructure:"maybe_config"`
}

// Defaults returns the option set with spec §6's stated defaults.
func Defaults() Options {
	return Options{
		Check:           true,
		InlineSourceMap: true,
	}
}

// Flags registers spec §6's recognised options onto fs, for a cobra
// command to bind with viper.
func Flags(fs *pflag.FlagSet) {
	fs.Bool("check", true, "run type-check before emit")
	fs.Bool("debug", false, "enable compiler-verbose logging")
	fs.Bool("incremental", false, "use incremental build info")
	fs.Bool("inline-source-map", true, "embed source maps instead of writing a sidecar")
	fs.StringSlice("lib", nil, "type libraries to select")
}

// Load builds Options from v, binding the flags registered by Flags
// and logging any keys present in raw tsconfig-shaped config that
// don't map onto a recognised field — spec §6's "unrecognised keys
// are reported as ignored, not fatal" — at debug level via logger.
func Load(v *viper.Viper, fs *pflag.FlagSet, logger hclog.Logger) (Options, error) {
	if err := v.BindPFlags(fs); err != nil {
		return Options{}, err
	}
	if f := fs.Lookup("inline-source-map"); f != nil {
		if err := v.BindPFlag("inline_source_map", f); err != nil {
			return Options{}, err
		}
	}
	v.SetDefault("check", true)
	v.SetDefault("inline_source_map", true)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	opts := Defaults()
	var metadata mapstructure.Metadata
	decodeOpt := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc())
	if err := v.Unmarshal(&opts, decodeOpt, func(c *mapstructure.DecoderConfig) {
		c.Metadata = &metadata
	}); err != nil {
		return Options{}, err
	}

	for _, key := range metadata.Unused {
		logger.Debug("ignoring unrecognised configuration key", "key", key)
	}
	return opts, nil
}
