package supervisor

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/pflag"
)

// Flags holds the parsed command-line surface: -H, -i, -I, -d, -v, -p.
type Flags struct {
	Help       bool
	Install    bool
	InitScript bool
	Daemon     bool
	Verbose    bool
	PIDFile    string
}

// ParseFlags parses args (typically os.Args[1:]) using spf13/pflag's
// POSIX-style single-dash short flags.
func ParseFlags(args []string) (*Flags, error) {
	fs := pflag.NewFlagSet("supervisor", pflag.ContinueOnError)
	f := &Flags{}
	fs.BoolVarP(&f.Help, "help", "H", false, "print help and exit")
	fs.BoolVarP(&f.Install, "install-instructions", "i", false, "print install instructions and exit")
	fs.BoolVarP(&f.InitScript, "init-script", "I", false, "write an init script and exit")
	fs.BoolVarP(&f.Daemon, "daemon", "d", false, "detach and run as a daemon")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "mirror log lines to stdout")
	fs.StringVarP(&f.PIDFile, "pid-file", "p", "", "write the current pid to this path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// ApplyFlags applies a parsed Flags value to sup. It returns exit=true
// when the caller should stop after printing/writing the requested
// artifact (help, install instructions, or init script) and use code as
// the process exit status.
func (sup *Supervisor) ApplyFlags(f *Flags) (exit bool, code int) {
	if f.Help {
		printHelp()
		return true, 0
	}
	if f.Install {
		fmt.Println(sup.InstallInstructionsText())
		return true, 0
	}
	if f.InitScript {
		if err := writeInitScript(sup.className, sup.filename); err != nil {
			fmt.Fprintln(os.Stderr, "supervisor: cannot write init script:", err)
			printHelp()
			return true, 1
		}
		return true, 0
	}

	sup.verbose.Store(f.Verbose)
	if f.PIDFile != "" {
		sup.pidFile = f.PIDFile
	}

	// daemonize must also run for the detached child: daemonize strips
	// -d from the child's argument list before re-exec'ing, so f.Daemon
	// is false by the time this child parses its own flags. Without
	// this OR, the child never takes the envDaemonChild branch and
	// never enters daemon mode at all.
	if f.Daemon || os.Getenv(envDaemonChild) == "1" {
		if err := sup.daemonize(); err != nil {
			fmt.Fprintln(os.Stderr, "supervisor: daemonize failed:", err)
			return true, 1
		}
	}

	if sup.daemonMode {
		// -v is ignored once -d has taken effect.
		sup.verbose.Store(false)
	}

	return false, 0
}

func printHelp() {
	fmt.Println(`usage: <command> [flags]

  -H    print this help and exit
  -i    print accumulated install instructions and exit
  -I    write an init script to /etc/init.d/<class-name> and exit
  -d    detach and run as a daemon
  -v    mirror log lines to stdout (ignored with -d)
  -p <path>
        write the current pid to <path>`)
}

// startDaemonChild spawns filename with args and envDaemonChild=1, its
// std streams redirected to /dev/null, and returns without waiting.
func startDaemonChild(filename string, args []string) (*os.Process, error) {
	cmd := exec.Command(filename, args...)
	cmd.Env = append(os.Environ(), envDaemonChild+"=1")

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		cmd.Stdin = devnull
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}
