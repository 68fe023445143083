package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lending-library/library"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "library",
		Short:        "Lending library: rent, return and reserve books",
		SilenceUsage: true,
		RunE:         runREPL,
	}
	bindFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "repl",
			Short: "Start the interactive session (default)",
			Args:  cobra.NoArgs,
			RunE:  runREPL,
		},
		&cobra.Command{
			Use:   "copies",
			Short: "List every book copy with its state, holder and queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, func(mgr *library.LibraryManager) error {
					printCopies(cmd.OutOrStdout(), mgr.Copies())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "events",
			Short: "Print the lending history as JSON lines",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, func(mgr *library.LibraryManager) error {
					return mgr.ExportEvents(cmd.OutOrStdout())
				})
			},
		},
		newUsersCmd(),
	)
	return root
}

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage library users",
	}

	var role string
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a user with a role and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := library.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q (admin, standard, no-rent, no-reserve)", role)
			}
			return withManager(cmd, func(mgr *library.LibraryManager) error {
				password, err := promptPassword(cmd, fmt.Sprintf("Enter password for %s: ", args[0]))
				if err != nil {
					return err
				}
				u, err := mgr.AddUser(args[0], r, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added user '%s' with role %s\n", u.Username, u.Role)
				return nil
			})
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleStandard), "permission tier")

	passwd := &cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Reset a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(mgr *library.LibraryManager) error {
				password, err := promptPassword(cmd, fmt.Sprintf("Enter new password for %s: ", args[0]))
				if err != nil {
					return err
				}
				if err := mgr.ResetPassword(args[0], password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Password successfully reset for %s\n", args[0])
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users and their loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(mgr *library.LibraryManager) error {
				printUsers(cmd.OutOrStdout(), mgr.Users(), mgr.Service().LoanLimit())
				return nil
			})
		},
	}

	users.AddCommand(add, passwd, list)
	return users
}

func runREPL(cmd *cobra.Command, _ []string) error {
	return withManager(cmd, func(mgr *library.LibraryManager) error {
		r := newREPL(mgr, cmd.InOrStdin(), cmd.OutOrStdout())
		return r.run()
	})
}

// withManager resolves configuration, opens the library and runs fn.
func withManager(cmd *cobra.Command, fn func(*library.LibraryManager) error) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	mc, err := cfg.managerConfig(logger)
	if err != nil {
		return err
	}
	mgr, err := library.NewLibraryManager(mc)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer mgr.Close()
	return fn(mgr)
}

// promptPassword reads a masked password from a terminal, or a plain line
// when stdin is not a terminal.
func promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no password given")
	}
	return strings.TrimSpace(sc.Text()), nil
}
