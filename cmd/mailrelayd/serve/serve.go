/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package serve implements the "serve" subcommand: it turns flags, an
// optional env file, and an optional YAML config file into a
// daemon.Config, constructs the daemon, and runs it until a shutdown
// signal arrives.
package serve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	systemDaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/common"
	"github.com/kgol-oss/mailrelayd/internal/daemon"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Default flag values.
var (
	DefaultLogTimestamp  = true
	DefaultLogLevel      = "info"
	DefaultSystemdNotify = false
	DefaultConfigFile    = ""

	DefaultListenerAddress  = ""
	DefaultListenerPort     = 25
	DefaultListenerSecure   = false
	DefaultListenerLmtp     = false
	DefaultListenerGreeting = ""

	DefaultSenderHost              = ""
	DefaultSenderPort              = 25
	DefaultSenderSecure            = false
	DefaultSenderIgnoreInvalidCert = false
	DefaultSenderLmtp              = false
	DefaultSenderUser              = ""
	DefaultSenderPass              = ""
	DefaultDSNOnSuccess            = false
	DefaultDSNOnFailure            = true
	DefaultDSNOnDelay              = false
	DefaultDSNFullBody             = false

	DefaultEmlStorageFolder = "eml"
	DefaultTimerIntervalSec = 0
	DefaultBackupEnabled    = false
	DefaultLogEnabled       = true

	DefaultStatePath = ""

	DefaultControlAddress = ""
	DefaultControlAPIKey  = ""
)

func init() {
	if DefaultStatePath == "" {
		DefaultStatePath, _ = os.Getwd()
	}
}

// CommandServe returns the "serve" cobra command.
func CommandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start the relay daemon",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	flags := serveCmd.Flags()

	flags.BoolVar(&DefaultLogTimestamp, "log-timestamp", DefaultLogTimestamp, "Prefix each log line with timestamp")
	flags.StringVar(&DefaultLogLevel, "log-level", DefaultLogLevel, "Log level (one of panic, fatal, error, warn, info or debug)")
	flags.BoolVar(&DefaultSystemdNotify, "systemd-notify", DefaultSystemdNotify, "Enable systemd sd_notify callback")
	flags.StringVar(&DefaultConfigFile, "config-file", DefaultConfigFile, "Full path to an optional YAML config file")

	flags.StringVar(&DefaultListenerAddress, "listener-address", DefaultListenerAddress, "TCP listen address for the ingress SMTP/LMTP server")
	flags.IntVar(&DefaultListenerPort, "listener-port", DefaultListenerPort, "TCP listen port for the ingress SMTP/LMTP server")
	flags.BoolVar(&DefaultListenerSecure, "listener-secure", DefaultListenerSecure, "Offer STARTTLS on the ingress listener")
	flags.BoolVar(&DefaultListenerLmtp, "listener-lmtp", DefaultListenerLmtp, "Speak LMTP instead of SMTP on the ingress listener")
	flags.StringVar(&DefaultListenerGreeting, "listener-greeting", DefaultListenerGreeting, "Extra banner text appended to the ingress EHLO domain")

	flags.StringVar(&DefaultSenderHost, "sender-host", DefaultSenderHost, "Upstream SMTP/LMTP submission host")
	flags.IntVar(&DefaultSenderPort, "sender-port", DefaultSenderPort, "Upstream SMTP/LMTP submission port")
	flags.BoolVar(&DefaultSenderSecure, "sender-secure", DefaultSenderSecure, "Require TLS to the upstream submission host")
	flags.BoolVar(&DefaultSenderIgnoreInvalidCert, "sender-ignore-invalid-cert", DefaultSenderIgnoreInvalidCert, "Skip upstream certificate verification")
	flags.BoolVar(&DefaultSenderLmtp, "sender-lmtp", DefaultSenderLmtp, "Speak LMTP instead of SMTP to the upstream host")
	flags.StringVar(&DefaultSenderUser, "sender-user", DefaultSenderUser, "Upstream AUTH PLAIN username")
	flags.StringVar(&DefaultSenderPass, "sender-pass", DefaultSenderPass, "Upstream AUTH PLAIN password")
	flags.BoolVar(&DefaultDSNOnSuccess, "dsn-on-success", DefaultDSNOnSuccess, "Request DSN on successful delivery")
	flags.BoolVar(&DefaultDSNOnFailure, "dsn-on-failure", DefaultDSNOnFailure, "Request DSN on failed delivery")
	flags.BoolVar(&DefaultDSNOnDelay, "dsn-on-delay", DefaultDSNOnDelay, "Request DSN on delayed delivery")
	flags.BoolVar(&DefaultDSNFullBody, "dsn-full-body", DefaultDSNFullBody, "Request the full message body be returned with the DSN")

	flags.StringVar(&DefaultEmlStorageFolder, "eml-storage-folder", DefaultEmlStorageFolder, "Root folder for the on-disk spool")
	flags.IntVar(&DefaultTimerIntervalSec, "timer-interval-sec", DefaultTimerIntervalSec, "Relay tick period in seconds, 0 disables parking mode")
	flags.BoolVar(&DefaultBackupEnabled, "backup-enabled", DefaultBackupEnabled, "Move delivered messages to a backup queue instead of deleting them")
	flags.BoolVar(&DefaultLogEnabled, "log-enabled", DefaultLogEnabled, "Emit transport-level events for every forward attempt")

	flags.StringVar(&DefaultStatePath, "state-path", DefaultStatePath, "Full path to writable state directory")

	flags.StringVar(&DefaultControlAddress, "control-address", DefaultControlAddress, "TCP listen address for the control HTTP API, empty disables it")
	flags.StringVar(&DefaultControlAPIKey, "control-api-key", DefaultControlAPIKey, "Shared-secret api_key required on every control API request")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	bs := &bootstrap{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bs.configure(ctx, cmd, args); err != nil {
		return err
	}

	return bs.d.Serve(ctx)
}

type bootstrap struct {
	d *daemon.Daemon
}

func (bs *bootstrap) configure(ctx context.Context, cmd *cobra.Command, args []string) error {
	if err := common.ApplyFlagsFromEnvFile(cmd, nil); err != nil {
		return err
	}
	if err := common.ApplyFlagsFromConfigFile(cmd, DefaultConfigFile); err != nil {
		return err
	}

	logger, err := common.NewLogger(!DefaultLogTimestamp, DefaultLogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Debugln("serve start")

	statePath, err := filepath.Abs(DefaultStatePath)
	if err != nil {
		return fmt.Errorf("state-path invalid: %w", err)
	}
	if info, statErr := os.Stat(statePath); statErr != nil || !info.IsDir() {
		return fmt.Errorf("state-path error or not a directory: %v", statErr)
	}

	cfg := daemon.Config{
		Logger: logger,

		ListenerAddress:  DefaultListenerAddress,
		ListenerPort:     DefaultListenerPort,
		ListenerSecure:   DefaultListenerSecure,
		ListenerLmtp:     DefaultListenerLmtp,
		ListenerGreeting: DefaultListenerGreeting,

		SenderSmtpHost:          DefaultSenderHost,
		SenderSmtpPort:          DefaultSenderPort,
		SenderSmtpSecure:        DefaultSenderSecure,
		SenderIgnoreInvalidCert: DefaultSenderIgnoreInvalidCert,
		SenderLmtp:              DefaultSenderLmtp,
		SenderDSN: &upstream.DSN{
			NotifyOnSuccess: DefaultDSNOnSuccess,
			NotifyOnFailure: DefaultDSNOnFailure,
			NotifyOnDelay:   DefaultDSNOnDelay,
			ReturnFullBody:  DefaultDSNFullBody,
		},

		EmlStorageFolder: DefaultEmlStorageFolder,
		TimerIntervalSec: DefaultTimerIntervalSec,
		BackupEnabled:    DefaultBackupEnabled,
		LogEnabled:       DefaultLogEnabled,

		StatePath: statePath,

		ControlAddress: DefaultControlAddress,
		ControlAPIKey:  DefaultControlAPIKey,
	}

	if DefaultSenderUser != "" {
		cfg.SenderAuth = &upstream.Auth{User: DefaultSenderUser, Pass: DefaultSenderPass}
	}

	d, err := daemon.New(cfg, ctx)
	if err != nil {
		return fmt.Errorf("failed to construct daemon: %w", err)
	}
	bs.d = d

	if DefaultSystemdNotify {
		ok, notifyErr := systemDaemon.SdNotify(false, systemDaemon.SdNotifyReady)
		logger.WithField("ok", ok).Debugln("called systemd sd_notify ready")
		if notifyErr != nil {
			logger.WithError(notifyErr).Errorln("failed to trigger systemd sd_notify")
		}
	}

	return nil
}
