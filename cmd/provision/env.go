package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ruteri/iot-device-provisioning/cmd/flags"
	"github.com/ruteri/iot-device-provisioning/config"
	"github.com/urfave/cli/v2"
)

type envFlag interface {
	cli.Flag
	GetEnvVars() []string
}

// loadEnvFile reads the dotenv file before any command runs. App flags have already
// been resolved from the process environment by then, so flags that are still unset
// are re-read from the variables the file introduced. Command flags are parsed later
// and see the file directly.
//
// Precedence: command line, process environment, dotenv file, flag default.
func loadEnvFile(cCtx *cli.Context) error {
	path := cCtx.String(flagEnvFile.Name)
	loaded, err := config.LoadEnvFile(path)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if len(loaded) == 0 {
		return nil
	}

	fromFile := make(map[string]bool, len(loaded))
	for _, key := range loaded {
		fromFile[key] = true
	}

	for _, f := range cCtx.App.Flags {
		ef, ok := f.(envFlag)
		if !ok {
			continue
		}
		name := ef.Names()[0]
		if cCtx.IsSet(name) {
			continue
		}
		for _, key := range ef.GetEnvVars() {
			if !fromFile[key] {
				continue
			}
			if err := cCtx.Set(name, os.Getenv(key)); err != nil {
				return cli.Exit(fmt.Sprintf("invalid %s in %s: %v", key, path, err), 2)
			}
			break
		}
	}

	flags.SetupLogger(cCtx).Debug("Loaded env file",
		slog.String("path", path),
		slog.Int("vars", len(loaded)))
	return nil
}
