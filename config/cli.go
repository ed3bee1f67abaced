package config

import (
	"flag"
	"strconv"
	"time"
)

// Cli holds the parsed command-line/env configuration of the daemon. The
// bulk of the real configuration surface lives in config.ini under the
// storage root (see IniConfig); these are the handful of process-level
// overrides that make sense as flags because they're needed before the
// storage root's config.ini can even be located.
type Cli struct {
	StorageRoot     string
	ConfigPath      string
	PromAddress     string
	InternalAddress string
	LogLevel        int
	CheckInterval   time.Duration
	UploadEnabled   bool
}

// invertedBoolValue implements flag.Value and flag.boolFlag so `-no-x` can
// be passed bare (equivalent to `-no-x=true`), the same way the stdlib
// treats ordinary bool flags.
type invertedBoolValue struct{ p *bool }

func (v invertedBoolValue) String() string {
	if v.p == nil {
		return "false"
	}
	return strconv.FormatBool(!*v.p)
}

func (v invertedBoolValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*v.p = !b
	return nil
}

func (v invertedBoolValue) IsBoolFlag() bool { return true }

// InvertedBoolFlag registers a `-no-<name>` flag that sets *p to the
// opposite of the value the user passes, so defaults that read naturally
// as "on" (e.g. upload enabled) can still be switched off from the CLI
// without a double negative in the flag name itself.
func InvertedBoolFlag(fs *flag.FlagSet, p *bool, name string, value bool, usage string) {
	*p = value
	fs.Var(invertedBoolValue{p}, "no-"+name, usage)
}
