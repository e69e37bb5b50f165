package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nitishm/bindle/internal/config"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/objectrepo"
	"github.com/nitishm/bindle/invoicestore/sqlrepo"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/service"
	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
	"github.com/nitishm/bindle/transport/grpcapi"
	"github.com/nitishm/bindle/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	cfg     *config.Config
	log     *logger.Logger
	service *service.Service
	closers []func() error
}

// newServer opens storage and builds the service. A non-empty backend opens
// that registry backend from its flags instead of cfg.Storage.
func newServer(cfg *config.Config, backend string) (_ *server, err error) {
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	s := &server{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var objects storage.ObjectStore
	var closeObjects func() error
	if err := cfg.CheckBackends(backend); err != nil {
		return nil, err
	}
	if backend != "" {
		objects, closeObjects, err = registry.Open(backend, registry.UsageServer)
	} else {
		objects, closeObjects, err = cfg.Storage.Open(registry.UsageServer)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s.addCloser(closeObjects)

	var repo invoicestore.Repository
	switch cfg.Repository.Driver {
	case config.RepoSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Repository.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := sqlrepo.Open(cfg.Repository.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("repository: %w", err)
		}
		s.addCloser(db.Close)
		repo = db
	default:
		repo = objectrepo.New(objects)
	}

	parcels, err := parcel.New(objects, parcel.Options{
		ChunkSize:    cfg.ChunkSize,
		CacheEntries: int64(cfg.CacheEntries),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	s.addCloser(func() error { parcels.Close(); return nil })

	s.service = service.New(invoicestore.New(repo, log), parcels, service.Options{
		ProbeConcurrency: cfg.ProbeConcurrency,
		Logger:           log,
	})
	return s, nil
}

func (s *server) addCloser(fn func() error) {
	if fn != nil {
		s.closers = append(s.closers, fn)
	}
}

// Close releases resources in reverse order of acquisition.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
	s.log.Sync()
}

// Run serves until ctx is cancelled or a listener fails.
func (s *server) Run(ctx context.Context) error {
	var grpcLis, httpLis net.Listener
	var err error
	if addr := s.cfg.GRPCAddr; addr != "" {
		if grpcLis, err = net.Listen("tcp", addr); err != nil {
			return err
		}
	}
	if addr := s.cfg.HTTPAddr; addr != "" {
		if httpLis, err = net.Listen("tcp", addr); err != nil {
			if grpcLis != nil {
				_ = grpcLis.Close()
			}
			return err
		}
	}
	return s.serve(ctx, grpcLis, httpLis)
}

// serve runs the gRPC and HTTP servers on the given listeners. A nil
// listener disables that transport.
func (s *server) serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	if grpcLis != nil {
		gs := grpc.NewServer()
		grpcapi.RegisterBindleServer(gs, &grpcapi.Server{Bundles: s.service, Logger: s.log})
		s.log.Info("gRPC listening", "addr", grpcLis.Addr().String())
		g.Go(func() error { return gs.Serve(grpcLis) })
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	if httpLis != nil {
		gin.SetMode(gin.ReleaseMode)
		hs := &http.Server{
			Handler:           httpapi.NewRouter(httpapi.NewHandler(s.service, s.log)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.log.Info("HTTP listening", "addr", httpLis.Addr().String())
		g.Go(func() error {
			if err := hs.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err := g.Wait()
	s.log.Info("server stopped")
	return err
}
