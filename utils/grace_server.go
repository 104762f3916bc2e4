package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	gracefulEnvKey     = "IS_GRACEFUL"
	gracefulEnvValue   = gracefulEnvKey + "=1"
	gracefulListenerFD = 3
)

// Server wraps http.Server with signal driven shutdown and zero-downtime restart.
// SIGTERM and SIGINT drain in-flight requests; SIGUSR2 forks a child that inherits
// the listening socket and then drains the parent.
type Server struct {
	*http.Server

	ShutdownTimeout time.Duration

	listener     net.Listener
	inherited    bool
	signalChan   chan os.Signal
	shutdownChan chan struct{}
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		inherited:       os.Getenv(gracefulEnvKey) != "",
		signalChan:      make(chan os.Signal, 1),
		shutdownChan:    make(chan struct{}),
	}
}

// ListenAndServe serves until a shutdown signal arrives and every in-flight request finished.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := srv.listen(addr)
	if err != nil {
		return err
	}
	srv.listener = ln

	go srv.handleSignals()
	err = srv.Server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-srv.shutdownChan
	return nil
}

func (srv *Server) listen(addr string) (net.Listener, error) {
	if srv.inherited {
		ln, err := net.FileListener(os.NewFile(gracefulListenerFD, ""))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (srv *Server) handleSignals() {
	signal.Notify(srv.signalChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2)

	for sig := range srv.signalChan {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			Sugar.Infof("received %s, draining HTTP server", sig)
			srv.shutdown()
			return
		case syscall.SIGUSR2:
			Sugar.Info("received SIGUSR2, restarting HTTP server")
			pid, err := srv.forkChild()
			if err != nil {
				Sugar.Errorf("restart failed, continuing to serve: %v", err)
				continue
			}
			Sugar.Infof("child process %d started, draining parent", pid)
			srv.shutdown()
			return
		}
	}
}

func (srv *Server) shutdown() {
	signal.Stop(srv.signalChan)
	ctx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		Sugar.Errorf("HTTP server shutdown error: %v", err)
	} else {
		Sugar.Info("HTTP server stopped")
	}
	close(srv.shutdownChan)
}

// forkChild starts a copy of this binary that inherits the listening socket as fd 3.
func (srv *Server) forkChild() (int, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, errors.New("listener is not *net.TCPListener")
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("get listener file: %w", err)
	}
	defer file.Close()

	envs := make([]string, 0, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if e != gracefulEnvValue {
			envs = append(envs, e)
		}
	}
	envs = append(envs, gracefulEnvValue)

	attr := &syscall.ProcAttr{
		Env:   envs,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	}
	return syscall.ForkExec(os.Args[0], os.Args, attr)
}

// GraceServer starts an HTTP server with graceful capabilities.
func GraceServer(addr string, handler http.Handler) error {
	return NewServer(addr, handler, defaultReadTimeout, defaultWriteTimeout).ListenAndServe()
}
