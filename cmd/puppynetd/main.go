// Command puppynetd is the PuppyNet agent entrypoint: a daemon
// subcommand running the node loop, plus the one-shot operator
// subcommands around it (scan, install, uninstall, update, create-user).
// Its flag-set-per-subcommand shape mirrors the teacher's own muscle CLI
// (cmd/muscle/muscle.go's newFlagSet/globalContext/exitUsage idiom).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/config"
)

var (
	// version is set at build time via -ldflags -X main.version=..., the
	// same convention the teacher's muscle binary uses.
	version = "unknown"

	globalContext struct {
		base     string
		logLevel string
	}

	daemonContext struct {
		bind  string
		http  string
		peer  string
		reads multiFlag
		write multiFlag
	}

	scanContext struct {
		path string
	}

	updateContext struct {
		version string
	}

	createUserContext struct {
		username string
		password string
	}
)

// multiFlag accumulates repeated -read/-write flag occurrences, matching
// the CLI surface's "repeatable" --read/--write flags (spec.md §CLI).
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&globalContext.base, "base", config.DefaultBaseDirectoryPath, "`directory` for configuration, keypair, catalog and cache")
	var levels []string
	for _, l := range log.AllLevels {
		levels = append(levels, l.String())
	}
	fs.StringVar(&globalContext.logLevel, "verbosity", "warning", "sets the log `level`, among "+strings.Join(levels, ", "))
	return fs
}

func exitUsage(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	_, _ = fmt.Fprintf(os.Stderr, `Usage: %s COMMAND [ARGS]

Commands:

	daemon: run the node loop, serving peers and (if -http is set) the JSON façade
	scan <path>: walk and hash a directory into the local catalog, then exit
	install: write an initial configuration file in -base
	uninstall: remove -base entirely, including the keypair and catalog
	update [version]: fetch and install a self-update, or "latest" if version is omitted
	create-user --username --password: add a password-authenticated HTTP user
`, os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		exitUsage("command name required")
	}

	daemonFlags := newFlagSet("daemon")
	daemonFlags.StringVar(&daemonContext.bind, "bind", "", "override listen-addr from the config file")
	daemonFlags.StringVar(&daemonContext.http, "http", "", "override http-addr from the config file")
	daemonFlags.StringVar(&daemonContext.peer, "peer", "puppynet", "rendezvous string for peer discovery")
	daemonFlags.Var(&daemonContext.reads, "read", "`path` to share read-only, repeatable")
	daemonFlags.Var(&daemonContext.write, "write", "`path` to share read-write, repeatable")

	scanFlags := newFlagSet("scan")

	installFlags := newFlagSet("install")
	uninstallFlags := newFlagSet("uninstall")

	updateFlags := newFlagSet("update")

	createUserFlags := newFlagSet("create-user")
	createUserFlags.StringVar(&createUserContext.username, "username", "", "new user's `name`")
	createUserFlags.StringVar(&createUserContext.password, "password", "", "new user's `password`")

	cmd := os.Args[1]
	switch cmd {
	case "daemon":
		_ = daemonFlags.Parse(os.Args[2:])
	case "scan":
		_ = scanFlags.Parse(os.Args[2:])
		if scanFlags.NArg() != 1 {
			exitUsage("scan: exactly one path argument required")
		}
		scanContext.path = scanFlags.Arg(0)
	case "install":
		_ = installFlags.Parse(os.Args[2:])
	case "uninstall":
		_ = uninstallFlags.Parse(os.Args[2:])
	case "update":
		_ = updateFlags.Parse(os.Args[2:])
		if n := updateFlags.NArg(); n > 1 {
			exitUsage(fmt.Sprintf("update: at most one version argument, got %d", n))
		} else if n == 1 {
			updateContext.version = updateFlags.Arg(0)
		}
	case "create-user":
		_ = createUserFlags.Parse(os.Args[2:])
		if createUserContext.username == "" || createUserContext.password == "" {
			exitUsage("create-user: --username and --password are required")
		}
	case "version":
		fmt.Println(version)
		return
	default:
		exitUsage(fmt.Sprintf("%q: command not recognized", cmd))
	}

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(globalContext.logLevel)
	if err != nil {
		log.Fatalf("Could not parse log level %q: %v", globalContext.logLevel, err)
	}
	log.SetLevel(ll)

	switch cmd {
	case "install":
		runInstall()
	case "uninstall":
		runUninstall()
	case "daemon":
		runDaemon()
	case "scan":
		runScan()
	case "update":
		runUpdate()
	case "create-user":
		runCreateUser()
	}
}
