// Command auth is the operator-facing CLI for authd: generating the
// deployment's aPAKE server setup, bootstrapping the first administrator
// directly against the on-disk directory (no daemon involved), creating
// ordinary local accounts the same way, and creating new accounts over
// the network against a running daemon.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cosi-lab/authd/internal/adminclient"
	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/config"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/secret"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "generate-opaque-secret":
		err = runGenerateOpaqueSecret(os.Args[2:])
	case "bootstrap-admin":
		err = runBootstrapAdmin(os.Args[2:])
	case "local-create-user":
		err = runLocalCreateUser(os.Args[2:])
	case "create-user":
		err = runCreateUser(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: auth <subcommand> [options]

Subcommands:
  generate-opaque-secret --output <path>
  bootstrap-admin --name <name> --uid <uid> --authd-config <path>
  local-create-user --name <name> --uid <uid> --authd-config <path> [--shell <path>] [--homedir <path>]
  create-user --name <name> --uid <uid> --host <addr> --cert <path> [--shell <path>] [--homedir <path>]
`)
}

func runGenerateOpaqueSecret(args []string) error {
	fs := newFlagSet("generate-opaque-secret")
	output := fs.String("output", "", "path to write the PEM-encoded server setup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return fmt.Errorf("--output is required")
	}

	setup, err := apake.GenerateServerSetup()
	if err != nil {
		return fmt.Errorf("generating server setup: %w", err)
	}
	if err := os.WriteFile(*output, setup.Marshal(), 0o600); err != nil {
		return fmt.Errorf("writing server setup: %w", err)
	}
	fmt.Printf("wrote opaque server setup to %s\n", *output)
	return nil
}

// runBootstrapAdmin registers the first administrator directly against the
// on-disk directory, without dialing the daemon (there may be no daemon
// running, or no auth-admins member yet able to authorize a network
// registration). It never touches the group file: granting auth-admins
// membership is a separate, deliberate operator step.
func runBootstrapAdmin(args []string) error {
	fs := newFlagSet("bootstrap-admin")
	name := fs.String("name", "", "account name")
	uid := fs.Uint("uid", 0, "numeric uid")
	authdConfig := fs.String("authd-config", "/etc/authd/authd.toml", "path to the daemon's authd.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *uid == 0 {
		return fmt.Errorf("--uid is required")
	}

	cfg, err := config.Load(*authdConfig)
	if err != nil {
		return fmt.Errorf("loading authd config: %w", err)
	}

	return registerLocally(cfg, *name, uint32(*uid), "/bin/sh", "/home/"+*name)
}

// runLocalCreateUser registers an ordinary (non-admin) account directly
// against the on-disk directory, the same way bootstrap-admin does. Unlike
// bootstrap-admin it accepts --shell and --homedir, and the account is
// never implied to belong to auth-admins.
func runLocalCreateUser(args []string) error {
	fs := newFlagSet("local-create-user")
	name := fs.String("name", "", "account name")
	uid := fs.Uint("uid", 0, "numeric uid")
	shell := fs.String("shell", "/bin/sh", "login shell")
	homeDir := fs.String("homedir", "", "home directory (defaults to /home/<name>)")
	authdConfig := fs.String("authd-config", "/etc/authd/authd.toml", "path to the daemon's authd.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *uid == 0 {
		return fmt.Errorf("--uid is required")
	}
	home := *homeDir
	if home == "" {
		home = "/home/" + *name
	}

	cfg, err := config.Load(*authdConfig)
	if err != nil {
		return fmt.Errorf("loading authd config: %w", err)
	}

	return registerLocally(cfg, *name, uint32(*uid), *shell, home)
}

// registerLocally runs both sides of the registration round trip
// in-process against cfg's server setup and directory store, with no
// network peer.
func registerLocally(cfg config.Config, name string, uid uint32, shell, homeDir string) error {
	setupBytes, err := os.ReadFile(cfg.OpaqueServerSetup)
	if err != nil {
		return fmt.Errorf("reading opaque server setup: %w", err)
	}
	setup, err := apake.UnmarshalServerSetup(setupBytes)
	if err != nil {
		return fmt.Errorf("parsing opaque server setup: %w", err)
	}

	password, err := promptPasswordTwice()
	if err != nil {
		return err
	}

	clientState, msg1, err := apake.ClientRegistrationStart(name, password)
	if err != nil {
		return fmt.Errorf("starting registration: %w", err)
	}
	serverState, msg2, err := apake.ServerRegistrationStart(setup, msg1)
	if err != nil {
		return fmt.Errorf("server side of registration: %w", err)
	}
	msg3, err := apake.ClientRegistrationFinish(clientState, msg2)
	if err != nil {
		return fmt.Errorf("finishing registration: %w", err)
	}
	envelope, err := apake.ServerRegistrationFinish(serverState, msg3)
	if err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}

	store, err := directory.New(cfg.PasswdFile, cfg.GroupFile, cfg.ShadowFile, cfg.OpaqueCookies)
	if err != nil {
		return fmt.Errorf("opening directory store: %w", err)
	}
	if err := store.StoreEnvelope(name, envelope); err != nil {
		return fmt.Errorf("storing envelope: %w", err)
	}
	if err := store.AppendPasswd(directory.Passwd{Name: name, ID: uid, Dir: homeDir, Shell: shell}); err != nil {
		return fmt.Errorf("appending passwd entry: %w", err)
	}
	if err := store.AppendShadow(directory.Shadow{
		Name:           name,
		Passwd:         "!",
		ChangeMaxDays:  99999,
		ChangeWarnDays: 7,
	}); err != nil {
		return fmt.Errorf("appending shadow entry: %w", err)
	}

	fmt.Printf("created account %q (uid %d)\n", name, uid)
	return nil
}

// runCreateUser creates a new account over the network, authenticating to
// the daemon as an already-registered operator, then driving
// register_new_user/finish_registration on that authenticated session.
// Extended deadlines (adminLoginTimeout) absorb the interactive password
// entry this subcommand requires twice over.
func runCreateUser(args []string) error {
	fs := newFlagSet("create-user")
	name := fs.String("name", "", "new account name")
	uid := fs.Uint("uid", 0, "numeric uid for the new account")
	shell := fs.String("shell", "", "login shell for the new account (daemon default if empty)")
	homeDir := fs.String("homedir", "", "home directory for the new account (daemon default if empty)")
	host := fs.String("host", "", "daemon address, host:port")
	cert := fs.String("cert", "", "path to the daemon's pinned TLS certificate")
	operator := fs.String("operator", "", "operator username to authenticate as (defaults to $USER)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *uid == 0 {
		return fmt.Errorf("--uid is required")
	}
	if *host == "" || *cert == "" {
		return fmt.Errorf("--host and --cert are required")
	}

	operatorName := *operator
	if operatorName == "" {
		operatorName = os.Getenv("USER")
	}
	if operatorName == "" {
		return fmt.Errorf("--operator is required (could not determine from $USER)")
	}

	const adminLoginTimeout = 60 * time.Second

	client, err := adminclient.Dial(*host, *cert, adminLoginTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", *host, err)
	}
	defer client.Close()

	fmt.Printf("Password for operator %q: ", operatorName)
	operatorPassword, err := readPassword()
	if err != nil {
		return fmt.Errorf("reading operator password: %w", err)
	}
	defer secret.Bytes(operatorPassword).Wipe()

	if _, err := adminclient.Login(client, operatorName, string(operatorPassword)); err != nil {
		return fmt.Errorf("operator login: %w", err)
	}

	password, err := promptPasswordTwice()
	if err != nil {
		return err
	}

	if err := adminclient.RegisterUser(client, *name, uint32(*uid), *shell, *homeDir, password); err != nil {
		return fmt.Errorf("registering %s: %w", *name, err)
	}

	fmt.Printf("created account %q (uid %d) via %s\n", *name, *uid, *host)
	return nil
}

// promptPasswordTwice prompts until two consecutive entries agree,
// wiping every rejected entry before re-prompting.
func promptPasswordTwice() (string, error) {
	for {
		fmt.Print("Password: ")
		p1, err := readPassword()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		fmt.Print("Confirm password: ")
		p2, err := readPassword()
		if err != nil {
			secret.Bytes(p1).Wipe()
			return "", fmt.Errorf("reading password confirmation: %w", err)
		}
		if string(p1) == string(p2) {
			secret.Bytes(p2).Wipe()
			return string(p1), nil
		}
		secret.Bytes(p1).Wipe()
		secret.Bytes(p2).Wipe()
		fmt.Fprintln(os.Stderr, "passwords don't match, try again")
	}
}

// readPassword reads one line without echo from the controlling terminal,
// falling back to a plain newline-delimited read when stdin is not a
// terminal (scripted bootstrap). The fallback shares one buffered reader
// so successive prompts consume successive lines.
var stdinReader = bufio.NewReader(os.Stdin)

func readPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return b, err
	}
	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(line, "\n")), nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
