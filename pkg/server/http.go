package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"coin-settlement/pkg/config"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

// maxBodyBytes caps request bodies; provider webhooks are a few KB.
const maxBodyBytes = 1 << 20

type Server struct {
	server *http.Server
	cert   atomic.Pointer[tls.Certificate]
	tls    bool
	certs  [2]string
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:           http.MaxBytesHandler(p.Handler, maxBodyBytes),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
		},
		tls:   cfg.TLS.Enable,
		certs: [2]string{cfg.TLS.CertPath, cfg.TLS.KeyPath},
	}

	if !srv.tls {
		return srv, nil
	}

	if err := srv.loadCert(); err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	srv.server.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return srv.cert.Load(), nil
		},
	}
	return srv, nil
}

func (s *Server) loadCert() error {
	cert, err := tls.LoadX509KeyPair(s.certs[0], s.certs[1])
	if err != nil {
		return err
	}
	s.cert.Store(&cert)
	return nil
}

// watchCerts swaps in a rotated key pair. A failed reload keeps serving the
// previous certificate.
func (s *Server) watchCerts(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.loadCert(); err != nil {
				zap.L().Warn("tls reload failed, keeping previous certificate", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			zap.L().Info("tls certificate reloaded", zap.String("file", event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("tls watcher error", zap.Error(err))
		}
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	watchCtx, stopWatch := context.WithCancel(context.Background())
	var watcher *fsnotify.Watcher

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", srv.server.Addr)
			if err != nil {
				return err
			}

			if srv.tls {
				if watcher, err = fsnotify.NewWatcher(); err != nil {
					zap.L().Error("tls watcher disabled", zap.Error(err))
				} else {
					for _, f := range srv.certs {
						if err := watcher.Add(f); err != nil {
							zap.L().Warn("cannot watch tls file", zap.String("file", f), zap.Error(err))
						}
					}
					go srv.watchCerts(watchCtx, watcher)
				}
			}

			go func() {
				zap.L().Info("http server listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", srv.tls))
				var err error
				if srv.tls {
					err = srv.server.ServeTLS(lis, "", "")
				} else {
					err = srv.server.Serve(lis)
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Fatal("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopWatch()
			if watcher != nil {
				_ = watcher.Close()
			}
			zap.L().Info("http server draining")
			return srv.server.Shutdown(ctx)
		},
	})
}
