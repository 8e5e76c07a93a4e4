/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	nameLength        int
	port              int
	prefix            string
	profile           bool
	s3AccessKeyID     string
	s3Bucket          string
	s3Endpoint        string
	s3SecretAccessKey string
	s3UseSSL          bool
	sessionTimeout    time.Duration
	tlsCert           string
	tlsKey            string
	transcripts       string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.nameLength < 1 {
		return fmt.Errorf("invalid name length (must be at least 1): %d", c.nameLength)
	}
	if (c.s3Endpoint == "") != (c.s3Bucket == "") {
		return errors.New("both --s3-endpoint and --s3-bucket must be provided together")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CADAVRE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cadavre",
		Short:         "A server for the exquisite-corpse collaborative writing game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CADAVRE_BIND)")
	fs.IntVar(&cfg.nameLength, "name-length", 32, "maximum length of player display names, in runes (env: CADAVRE_NAME_LENGTH)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CADAVRE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CADAVRE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CADAVRE_PROFILE)")
	fs.StringVar(&cfg.s3AccessKeyID, "s3-access-key-id", "", "access key for transcript mirroring (env: CADAVRE_S3_ACCESS_KEY_ID)")
	fs.StringVar(&cfg.s3Bucket, "s3-bucket", "", "bucket to mirror finished transcripts into (env: CADAVRE_S3_BUCKET)")
	fs.StringVar(&cfg.s3Endpoint, "s3-endpoint", "", "s3-compatible endpoint for transcript mirroring (env: CADAVRE_S3_ENDPOINT)")
	fs.StringVar(&cfg.s3SecretAccessKey, "s3-secret-access-key", "", "secret key for transcript mirroring (env: CADAVRE_S3_SECRET_ACCESS_KEY)")
	fs.BoolVar(&cfg.s3UseSSL, "s3-use-ssl", true, "connect to the s3 endpoint over tls (env: CADAVRE_S3_USE_SSL)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 12*time.Hour, "time before idle rooms are ended (env: CADAVRE_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CADAVRE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CADAVRE_TLS_KEY)")
	fs.StringVar(&cfg.transcripts, "transcripts", "transcripts", "directory finished transcripts are written to (env: CADAVRE_TRANSCRIPTS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CADAVRE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CADAVRE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cadavre v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
