// Package activation picks up sockets passed in by systemd socket
// activation.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Systemd passes file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// Env is the socket activation environment of a process
type Env struct {
	PID   int
	FDs   int
	Names []string
}

// ParseEnv reads LISTEN_PID, LISTEN_FDS and LISTEN_FDNAMES through getenv.
// ok is false when activation is absent or meant for another process.
func ParseEnv(getenv func(string) string, pid int) (env Env, ok bool, err error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return Env{}, false, nil
	}

	env.PID, err = strconv.Atoi(pidStr)
	if err != nil {
		return Env{}, false, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if env.PID != pid {
		return Env{}, false, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return Env{}, false, nil
	}
	env.FDs, err = strconv.Atoi(fdsStr)
	if err != nil {
		return Env{}, false, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if env.FDs < 1 {
		return Env{}, false, nil
	}

	if names := getenv("LISTEN_FDNAMES"); names != "" {
		env.Names = strings.Split(names, ":")
	}

	return env, true, nil
}

// Name returns the socket name systemd assigned to the i-th descriptor
func (e Env) Name(i int) string {
	if i < len(e.Names) && e.Names[i] != "" {
		return e.Names[i]
	}
	return fmt.Sprintf("systemd-socket-%d", i)
}

// Listeners returns the systemd-activated listeners, or nil when the process
// was not socket activated. The activation variables are unset afterwards so
// child processes don't inherit them.
func Listeners() ([]net.Listener, error) {
	env, ok, err := ParseEnv(os.Getenv, os.Getpid())
	if err != nil || !ok {
		return nil, err
	}

	listeners := make([]net.Listener, 0, env.FDs)
	for i := 0; i < env.FDs; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), env.Name(i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		_ = file.Close() // the listener holds its own dup
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d (%s): %w", fd, env.Name(i), err)
		}

		listeners = append(listeners, listener)
	}

	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// ListenersOrTCP returns the activated listeners, falling back to a TCP
// listener on addr.
func ListenersOrTCP(addr string) (listeners []net.Listener, activated bool, err error) {
	listeners, err = Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		return listeners, true, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return []net.Listener{ln}, false, nil
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
