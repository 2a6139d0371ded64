package config

import (
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	opts, err := Load(viper.New(), fs, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !opts.Check {
		t.Error("expected check to default to true")
	}
	if !opts.InlineSourceMap {
		t.Error("expected inline_source_map to default to true")
	}
	if opts.Debug {
		t.Error("expected debug to default to false")
	}
}

func TestLoadAppliesExplicitFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse([]string{"--debug", "--check=false", "--lib=dom,esnext"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	opts, err := Load(viper.New(), fs, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !opts.Debug {
		t.Error("expected debug to be true")
	}
	if opts.Check {
		t.Error("expected check to be false")
	}
	if len(opts.Lib) != 2 || opts.Lib[0] != "dom" || opts.Lib[1] != "esnext" {
		t.Errorf("unexpected lib value: %v", opts.Lib)
	}
}
