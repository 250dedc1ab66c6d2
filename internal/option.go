package internal

import (
	"io"
	"os"

	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/identity"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	store  docstore.Store
	auth   identity.Authenticator
	out    io.Writer
	logOut io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithStore uses store instead of opening the configured driver. The
// application closes it on exit.
func WithStore(store docstore.Store) Option {
	return func(a *application) {
		a.store = store
	}
}

// WithAuthenticator overrides the configured authentication mode.
func WithAuthenticator(auth identity.Authenticator) Option {
	return func(a *application) {
		a.auth = auth
	}
}

// WithOutput sets where command output is written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithLogOutput sets where logs are written. Defaults to stdout, or stderr
// for commands that own stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

func newApplication(opts []Option, defaultLogOut io.Writer) (*application, error) {
	app := &application{out: os.Stdout, logOut: defaultLogOut}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errConfigRequired
	}
	return app, nil
}
