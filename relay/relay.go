package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/replrelay/config"
	"github.com/guseggert/replrelay/relay/session"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxBodyBytes = 1 << 20

// CommandRequest is the body of a POST to a device.
type CommandRequest struct {
	Commands []string `json:"commands"`
}

// Relay is an HTTP server that runs a REPL session against a device for each accepted POST.
// The response is held until the REPL process exits.
type Relay struct {
	logger *zap.SugaredLogger

	cfg     *config.Config
	repl    config.REPL
	profile config.Profile
	auth    Authenticator

	logLevel *zapcore.Level

	listenAddr     string
	sessionTimeout time.Duration

	router *httprouter.Router

	mut        sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

type Option func(r *Relay)

func WithListenAddr(s string) Option {
	return func(r *Relay) {
		r.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		r.logger = l.Named("relay").Sugar()
	}
}

// WithLogLevel raises the minimum level of the relay's logger, whichever logger it ends up with.
func WithLogLevel(l zapcore.Level) Option {
	return func(r *Relay) {
		r.logLevel = &l
	}
}

// WithSessionTimeout bounds how long a request waits for its REPL session.
// When it expires the REPL is killed and the request gets a 504. Zero means no bound.
func WithSessionTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.sessionTimeout = d
	}
}

// New constructs a relay from cfg. The config must not be modified afterwards.
func New(cfg *config.Config, opts ...Option) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	r := &Relay{
		logger:         logger.Named("relay").Sugar(),
		cfg:            cfg,
		repl:           cfg.REPL,
		profile:        config.CompanionProfile,
		auth:           Authenticator{Token: cfg.Token, TokenHash: cfg.TokenHash},
		listenAddr:     cfg.ListenAddr,
		sessionTimeout: cfg.SessionTimeout.Duration,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logLevel != nil {
		r.logger = r.logger.WithOptions(zap.IncreaseLevel(*r.logLevel))
	}
	r.router = r.routes()
	return r, nil
}

func (r *Relay) routes() *httprouter.Router {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	router.HandleOPTIONS = false

	// Every request goes through the same handler so that auth and device resolution
	// happen before the method is considered.
	methods := []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	for _, m := range methods {
		router.Handle(m, "/*path", r.device)
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.device(w, req, nil)
	})
	return router
}

// Handler returns the relay's HTTP handler.
func (r *Relay) Handler() http.Handler {
	return r.router
}

// Start binds the listen address. Bind failures are returned here rather than from Serve.
func (r *Relay) Start() error {
	l, err := net.Listen("tcp", r.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP on %s: %w", r.listenAddr, err)
	}
	r.mut.Lock()
	r.listener = l
	r.httpServer = &http.Server{Handler: r.router}
	r.mut.Unlock()
	r.logger.Infow("listening", "Addr", l.Addr().String())
	return nil
}

// Serve serves requests on the bound listener until Stop is called.
func (r *Relay) Serve() error {
	r.mut.Lock()
	server, listener := r.httpServer, r.listener
	r.mut.Unlock()
	if server == nil {
		return errors.New("relay not started")
	}
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts the relay and serves until it is stopped.
func (r *Relay) Run() error {
	if err := r.Start(); err != nil {
		return err
	}
	return r.Serve()
}

// Addr returns the bound address, or nil if the relay has not started.
func (r *Relay) Addr() net.Addr {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop closes the listener and all connections.
// Sessions whose requests are cut off have their REPL processes killed.
func (r *Relay) Stop() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.httpServer == nil {
		return nil
	}
	return r.httpServer.Close()
}

// device handles every request. Dispatch order is auth, device resolution, body decoding, then method.
func (r *Relay) device(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	log := r.logger.With("Method", req.Method, "Path", req.URL.EscapedPath(), "RemoteAddr", req.RemoteAddr)

	d, err := r.target(req)
	if err != nil {
		r.reject(w, log, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.reject(w, log, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit))
			return
		}
		log.Warnf("error reading request body, aborting: %s", err)
		panic(http.ErrAbortHandler)
	}

	commands, err := r.commands(req.Method, body)
	if err != nil {
		r.reject(w, log, err)
		return
	}

	log = log.With("Device", d.Name)
	s, err := session.Start(session.Config{
		Log:      r.logger.Named("session").With("Device", d.Name),
		Command:  r.repl.Command,
		Args:     r.profile.Args(r.repl, d),
		Prompt:   r.repl.Prompt,
		Commands: commands,
	})
	if err != nil {
		log.Errorw("unable to start session", "Error", err)
		r.respond(w, log, statusFor(err))
		return
	}
	log = log.With("SessionID", s.ID)
	log.Debugw("session started", "Commands", len(commands))

	ctx := req.Context()
	if r.sessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sessionTimeout)
		defer cancel()
	}

	res, err := s.Wait(ctx)
	if err != nil {
		s.Kill()
		if req.Context().Err() != nil {
			log.Infow("request ended before session finished, killed REPL", "Error", req.Context().Err())
			return
		}
		log.Warnw("session timed out, killed REPL", "Timeout", r.sessionTimeout)
		r.respond(w, log, statusFor(err))
		return
	}

	log.Infow("session finished", "ExitCode", res.ExitCode, "Duration", res.Duration, "Error", res.Err)
	r.respond(w, log, http.StatusOK)
}

// target authenticates the request and resolves its device. Neither needs the body.
func (r *Relay) target(req *http.Request) (config.Device, error) {
	if err := r.auth.Authenticate(req.Header.Get("Authorization")); err != nil {
		return config.Device{}, err
	}
	return ResolveDevice(req.URL.EscapedPath(), r.cfg)
}

// commands decodes the body and returns its commands if the request is a POST.
func (r *Relay) commands(method string, body []byte) ([]string, error) {
	var cmdReq CommandRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &cmdReq); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBody, err)
		}
	}

	if method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, method)
	}
	if len(cmdReq.Commands) == 0 {
		return nil, ErrNoCommands
	}
	return cmdReq.Commands, nil
}

func (r *Relay) reject(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	log.Infow("rejecting request", "Error", err)
	r.respond(w, log, statusFor(err))
}

func (r *Relay) respond(w http.ResponseWriter, log *zap.SugaredLogger, code int) {
	if code == http.StatusOK {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	if _, err := fmt.Fprintln(w, http.StatusText(code)); err != nil {
		log.Debugf("error writing response: %s", err)
	}
}
