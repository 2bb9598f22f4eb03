package main

import (
	"fmt"
	"os"

	"github.com/ruteri/iot-device-provisioning/cmd/flags"
	"github.com/ruteri/iot-device-provisioning/config"
	"github.com/ruteri/iot-device-provisioning/registry"
	"github.com/ruteri/iot-device-provisioning/trust"
	"github.com/urfave/cli/v2"
)

var flagThingName = &cli.StringFlag{
	Name:     "thing-name",
	Required: true,
	Usage:    "Name of the device in the IoT registry",
}
var flagEnv = &cli.StringFlag{
	Name:  "env",
	Usage: "Deployment environment: dev, staging or prod. Selects the policy and the registration API",
}
var flagPolicyName = &cli.StringFlag{
	Name:  "policy-name",
	Usage: "Policy attached to the certificate. Overrides the environment's policy",
}
var flagThingType = &cli.StringFlag{
	Name:  "thing-type",
	Usage: "Optional thing type of the created thing",
}
var flagOutputDir = &cli.StringFlag{
	Name:  "output-dir",
	Value: "./",
	Usage: "Directory receiving the local copy of the bundle",
}
var flagBucketName = &cli.StringFlag{
	Name:  "bucket-name",
	Value: config.DefaultBucketName,
	Usage: "S3 bucket receiving the bundle",
}
var flagS3Prefix = &cli.StringFlag{
	Name:  "s3-prefix",
	Usage: "Object key prefix. Defaults to the thing name",
}
var flagS3PrefixUUID = &cli.BoolFlag{
	Name:  "s3-prefix-uuid",
	Usage: "Store objects under <thing-name>/<random uuid>/ so repeated uploads never overwrite",
}
var flagRootCAURL = &cli.StringFlag{
	Name:  "root-ca-url",
	Value: trust.DefaultRootCAURL,
	Usage: "URL of the root certificate shipped with the bundle",
}
var flagEndpointType = &cli.StringFlag{
	Name:  "endpoint-type",
	Value: registry.DefaultEndpointType,
	Usage: "Endpoint type passed to DescribeEndpoint",
}
var flagRegistrationURL = &cli.StringFlag{
	Name:  "django-provisioning-url",
	Usage: "Registration API URL. Overrides the environment's URL",
}
var flagEnvFile = &cli.StringFlag{
	Name:  "env-file",
	Value: config.DefaultEnvFile,
	Usage: "dotenv file read at startup, variables already set win",
}
var flagVaultAddr = &cli.StringFlag{
	Name:    "vault-addr",
	Usage:   "Vault address. Token is read from VAULT_TOKEN",
	EnvVars: []string{"VAULT_ADDR"},
}
var flagVaultMount = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "KV v2 mount receiving the bundle",
}
var flagVaultPath = &cli.StringFlag{
	Name:  "vault-path",
	Value: "iot/devices",
	Usage: "Path within the mount, the thing name is appended",
}
var flagFromDir = &cli.StringFlag{
	Name:     "from-dir",
	Required: true,
	Usage:    "Directory holding a bundle written by a previous run",
}

// toggle is a sink switch with a --no-<name> negation, the negation wins.
type toggle struct {
	name  string
	usage string
}

var (
	toggleLocal        = toggle{name: "local-save", usage: "write the bundle to --output-dir"}
	toggleS3           = toggle{name: "s3-save", usage: "upload the bundle to --bucket-name"}
	toggleRegistration = toggle{name: "django-provisioning", usage: "submit the bundle to the registration API"}
	toggleVault        = toggle{name: "vault-save", usage: "write the bundle to Vault"}
)

func (t toggle) flags(enabled bool) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: t.name, Value: enabled, Usage: t.usage},
		&cli.BoolFlag{Name: "no-" + t.name, Usage: "disable --" + t.name},
	}
}

func (t toggle) enabled(cCtx *cli.Context) bool {
	if cCtx.Bool("no-" + t.name) {
		return false
	}
	return cCtx.Bool(t.name)
}

func sinkFlags(local, s3, registration, vault bool) []cli.Flag {
	fs := []cli.Flag{
		flagOutputDir,
		flagBucketName,
		flagS3Prefix,
		flagS3PrefixUUID,
		flagRegistrationURL,
		flagVaultAddr,
		flagVaultMount,
		flagVaultPath,
	}
	fs = append(fs, toggleLocal.flags(local)...)
	fs = append(fs, toggleS3.flags(s3)...)
	fs = append(fs, toggleRegistration.flags(registration)...)
	fs = append(fs, toggleVault.flags(vault)...)
	return fs
}

func commandFlags(extra ...[]cli.Flag) []cli.Flag {
	fs := []cli.Flag{
		flagThingName,
		flagEnv,
		flagPolicyName,
		flagRootCAURL,
		flagEndpointType,
	}
	for _, e := range extra {
		fs = append(fs, e...)
	}
	return fs
}

func appFlags() []cli.Flag {
	fs := append([]cli.Flag{}, flags.CommonFlags...)
	return append(fs, flagEnvFile)
}

const usage string = `Registers a device with AWS IoT Core, issues its certificate and
distributes the credential bundle to the selected sinks.`

func main() {
	app := &cli.App{
		Name:  "provision",
		Usage: usage,
		Flags:  appFlags(),
		Before: loadEnvFile,
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "register a new device and distribute its credentials",
				Flags: commandFlags([]cli.Flag{flagThingType}, sinkFlags(true, true, false, false)),
				Action: func(cCtx *cli.Context) error {
					r, err := newRun(cCtx)
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					return r.provision(cCtx.Context)
				},
			},
			{
				Name:  "distribute",
				Usage: "distribute a bundle written by a previous run without touching the registry",
				Flags: commandFlags([]cli.Flag{flagFromDir}, sinkFlags(false, true, false, false)),
				Action: func(cCtx *cli.Context) error {
					r, err := newRun(cCtx)
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					return r.distribute(cCtx.Context, cCtx.String(flagFromDir.Name))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
