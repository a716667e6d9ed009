// Package dsbridge assembles the datastore translator server: an HTTP
// endpoint speaking the Cloud Datastore v1 API in front of an in-process
// legacy datastore stub.
package dsbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/cloudshims/dsbridge/server"
	"github.com/cloudshims/dsbridge/stub"
	"github.com/cloudshims/dsbridge/translator"
)

// Config carries the two host-supplied inputs, project identity and bind
// address, plus the optional extras of the dev server.
type Config struct {
	// ProjectID is the external project identifier. The runtime app
	// identifier is derived by prefixing the dev partition.
	ProjectID string `yaml:"project_id"`
	Addr      string `yaml:"addr"`
	// Host, with RequireHost set, must match the Host header of every
	// request.
	Host        string `yaml:"host"`
	RequireHost bool   `yaml:"require_host"`
	// DatastorePath points at the stub's snapshot file; empty keeps all
	// data in memory.
	DatastorePath string `yaml:"datastore_path"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// AppID returns the runtime app identifier for the configured project.
func (c *Config) AppID() string {
	return "dev~" + c.ProjectID
}

// Server ties the handler, translator, and stub gateway together.
type Server struct {
	cfg  *Config
	log  *logrus.Logger
	http *http.Server
}

// New builds a server around an injected stub gateway. logger may be nil.
func New(cfg *Config, gw stub.Gateway, logger *logrus.Logger) (*Server, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("config: project id is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("config: bind address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	tr := translator.New(cfg.AppID(), gw, logger)
	var opts []server.Option
	if cfg.RequireHost {
		opts = append(opts, server.WithHostCheck(cfg.Host))
	}
	h := server.NewHandler(tr, logger, opts...)

	return &Server{
		cfg: cfg,
		log: logger,
		http: &http.Server{
			Addr:    cfg.Addr,
			Handler: h,
		},
	}, nil
}

// Serve binds the listener and serves until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"addr":    ln.Addr().String(),
		"project": s.cfg.ProjectID,
	}).Info("datastore translator listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		return s.http.Shutdown(context.Background())
	})
	return g.Wait()
}
