package config

import (
	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In       string
	Out      string
	Errors   string
	Variant  string
	LogLevel string
}

// LoadDecode merges config file, environment variables, and flags into
// DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return DecodeConfig{}, err
	}

	v.SetDefault("out", "./data/decoded.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("variant", "hub")
	v.SetDefault("log-level", "info")

	return DecodeConfig{
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		Errors:   v.GetString("errors"),
		Variant:  v.GetString("variant"),
		LogLevel: v.GetString("log-level"),
	}, nil
}
