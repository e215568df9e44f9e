package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/vnc-use-go/credentials"
	"github.com/PipeOpsHQ/vnc-use-go/desktop/vnc"
)

func (a *app) credentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored VNC credentials",
	}
	cmd.AddCommand(
		a.credentialsSetCommand(),
		a.credentialsGetCommand(),
		a.credentialsDeleteCommand(),
		a.credentialsListCommand(),
	)
	return cmd
}

func (a *app) credentialsSetCommand() *cobra.Command {
	var server, password string
	cmd := &cobra.Command{
		Use:   "set <hostname>",
		Short: "Store the server and password for a hostname",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := strings.TrimSpace(args[0])
			if server == "" {
				server = hostname
			}
			if _, err := vnc.ParseServerAddress(server); err != nil {
				return err
			}
			if !cmd.Flags().Changed("password") {
				fmt.Fprint(cmd.ErrOrStderr(), "Password (empty for none): ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			chain := a.credentialStore()
			if err := chain.Set(cmd.Context(), hostname, credentials.Credentials{Server: server, Password: password}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s\n", hostname)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server address (defaults to the hostname)")
	cmd.Flags().StringVar(&password, "password", "", "VNC password (prompted when omitted)")
	return cmd
}

func (a *app) credentialsGetCommand() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "get <hostname>",
		Short: "Show the credentials stored for a hostname",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := a.credentialStore().Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, credentials.ErrNotFound) {
					return fmt.Errorf("no credentials stored for %s", args[0])
				}
				return err
			}
			if show {
				fmt.Fprintf(cmd.OutOrStdout(), "server=%s password=%s\n", creds.Server, creds.Password)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), creds.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show-password", false, "print the password in clear text")
	return cmd
}

func (a *app) credentialsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <hostname>",
		Short: "Remove the credentials stored for a hostname",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := strings.TrimSpace(args[0])
			if err := a.credentialStore().Delete(cmd.Context(), hostname); err != nil {
				if errors.Is(err, credentials.ErrNotFound) {
					return fmt.Errorf("no credentials stored for %s", hostname)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted credentials for %s\n", hostname)
			return nil
		},
	}
}

func (a *app) credentialsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hostnames with stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hosts, err := a.credentialStore().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range hosts {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	}
}
