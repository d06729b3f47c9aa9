// Command adduser creates a TARMS account from the command line. It is the
// only way to create the first admin, since web registration always grants
// the user role.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/config"
	"github.com/tarmsledger/tarms/internal/database"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Display name (optional)")
	role := fs.String("role", string(auth.RoleUser), "Role: user or admin")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	dryRun := fs.Bool("dry-run", false, "Validate and hash against a throwaway in-memory store")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" || *email == "" {
		fmt.Fprintln(stdout, "Usage: adduser -user <username> -email <email> [-role user|admin] [-name <name>] [-password <password>] [-dry-run]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user, email")
	}
	if !auth.Role(*role).Valid() {
		return fmt.Errorf("invalid role %q", *role)
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	db, bcryptCost, err := openStore(*dryRun)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := auth.NewAuthService(auth.NewUserRepository(db), bcryptCost)
	id, err := svc.Register(context.Background(), auth.RegisterInput{
		Username:    *username,
		Email:       *email,
		Password:    password,
		DisplayName: *name,
		Role:        auth.Role(*role),
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %s", apperror.SafeMessage(err))
	}

	if *dryRun {
		fmt.Fprintf(stdout, "Dry run: user %s (%s) is valid\n", *username, *role)
		return nil
	}
	fmt.Fprintf(stdout, "User %s created successfully with ID %d (role %s)\n", *username, id, *role)
	return nil
}

// openStore opens the configured credential store and brings its schema up
// to date, or a fresh in-memory one for dry runs.
func openStore(dryRun bool) (*sql.DB, int, error) {
	if dryRun {
		db, err := database.OpenMemory()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open database: %w", err)
		}
		return db, auth.DefaultBcryptCost, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, cfg.Auth.BcryptCost, nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	// Pipes and tests.
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
