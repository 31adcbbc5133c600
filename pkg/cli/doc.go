// Package cli holds error types and output helpers shared by the
// llamagate command's subcommands.
//
// Commands wrap failures in a ConfigError or CommandError so the root
// command can print one consistent line and exit non-zero:
//
//	if err := config.Validate(cfg); err != nil {
//		return cli.NewConfigError("", err.Error())
//	}
package cli
