package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chaptervault/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage ntfy credentials",
	Long: `Manage the credentials used to post notifications to a protected ntfy topic.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (CHAPTERVAULT_NTFY_USERNAME and CHAPTERVAULT_NTFY_PASSWORD)

Set notifications.ntfy_account to pick an account by name.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store ntfy credentials securely",
	Example: `  # Interactive login
  chaptervault auth login

  # Store an account under a name
  chaptervault auth login home`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <name>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	name := "default"
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Account '%s' already exists. Update credentials? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("ntfy username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}

	fmt.Print("ntfy password: ")
	password, err := readPassword(reader)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	account := &auth.Account{
		Name:         name,
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}
	if err := manager.Store(account); err != nil {
		return err
	}

	printSuccess("Account saved: " + name)
	if auth.IsKeyringAvailable() {
		fmt.Println(dim("stored in the system keychain"))
	} else {
		fmt.Println(dim("stored in the encrypted credential file"))
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	printSuccess("Account removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		printInfo("No stored accounts", "use 'chaptervault auth login' to add one")
		return nil
	}

	t := newTable("Name", "Username", "Password", "Last Modified")
	for _, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		t.AppendRow(table.Row{
			sanitized.Name,
			sanitized.Username,
			sanitized.Password,
			sanitized.LastModified.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
	return nil
}

// readPassword reads without echo from a terminal, or a plain line otherwise
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
