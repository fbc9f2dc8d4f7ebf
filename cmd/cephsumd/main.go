// Command cephsumd is the checksum server daemon: it binds a TCP listener,
// wires the object-store connection pool, the worker registry, and the
// request server, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/snafus/cephsum-server/internal/admin"
	"github.com/snafus/cephsum-server/internal/audit"
	"github.com/snafus/cephsum-server/internal/auth"
	"github.com/snafus/cephsum-server/internal/config"
	"github.com/snafus/cephsum-server/internal/debug"
	"github.com/snafus/cephsum-server/internal/metrics"
	"github.com/snafus/cephsum-server/internal/objstore"
	"github.com/snafus/cephsum-server/internal/objstore/pool"
	"github.com/snafus/cephsum-server/internal/pathmap"
	"github.com/snafus/cephsum-server/internal/server"
	"github.com/snafus/cephsum-server/internal/worker"
)

func main() {
	var (
		bindHost            = flag.String("host", "0.0.0.0", "Bind host")
		bindPort            = flag.Int("port", 9999, "Bind port")
		configFile          = flag.String("config", "", "Path to the YAML configuration file (overrides the flags below when set)")
		authKeyFile         = flag.String("auth-key-file", "", "Path to the shared HMAC authentication key file")
		pathMappingXML      = flag.String("path-mapping", "", "Path to the lfn-to-pfn storage.xml document")
		defaultAlgType      = flag.String("algorithm", "adler32", "Default checksum algorithm name (stored in the config; a cksum request without algtype uses adler32)")
		readBlockMiB        = flag.Int("read-block-size-mib", 64, "Chunk read block size, in MiB (hard minimum 1)")
		maxPoolSize         = flag.Int("max-pool-size", pool.MaxSize, "Maximum object-store connection pool size (hard max 5)")
		requestTimeout      = flag.Duration("request-timeout", 30*time.Second, "Per-request deadline, measured from dispatch")
		objectStoreProvider = flag.String("objectstore-provider", "cephrgw", "Object-store provider (cephrgw, aws, minio, garage)")
		objectStoreRegion   = flag.String("objectstore-region", "us-east-1", "Object-store region")
		objectStoreEndpoint = flag.String("objectstore-endpoint", "", "Object-store S3-compatible endpoint (empty for AWS)")
		objectStoreUser     = flag.String("objectstore-access-key", "", "Object-store access key")
		objectStoreKeyring  = flag.String("objectstore-secret-key", "", "Object-store secret key")
		xattrKey            = flag.String("xattr-key", objstore.DefaultXattrKey, "Extended attribute key under which the checksum record is stored")
		adminAddress        = flag.String("admin-address", "", "Bind address for the admin HTTP server (metrics, pprof); disabled when empty")
		verbose             = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
		debug.SetEnabled(true)
	}

	cfg := &config.Config{
		ListenAddress:    fmt.Sprintf("%s:%d", *bindHost, *bindPort),
		AuthKeyFile:      *authKeyFile,
		PathMappingFile:  *pathMappingXML,
		DefaultAlgorithm: *defaultAlgType,
		ReadBlockSizeMiB: *readBlockMiB,
		MaxPoolSize:      *maxPoolSize,
		RequestTimeout:   *requestTimeout,
		XattrKey:         *xattrKey,
		ObjectStore: config.ObjectStore{
			Provider:  *objectStoreProvider,
			Region:    *objectStoreRegion,
			Endpoint:  *objectStoreEndpoint,
			AccessKey: *objectStoreUser,
			SecretKey: *objectStoreKeyring,
		},
	}
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration file")
		}
		cfg = loaded
	}
	if cfg.ReadBlockSizeMiB < config.MinReadBlockSizeMiB {
		cfg.ReadBlockSizeMiB = config.MinReadBlockSizeMiB
	}
	if cfg.MaxPoolSize <= 0 || cfg.MaxPoolSize > pool.MaxSize {
		cfg.MaxPoolSize = pool.MaxSize
	}

	authKey, err := auth.LoadKey(cfg.AuthKeyFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load authentication key")
	}

	var pathMapper *pathmap.Parser
	if cfg.PathMappingFile != "" {
		pathMapper, err = pathmap.FromFile(cfg.PathMappingFile)
		if err != nil {
			log.WithError(err).Fatal("failed to load path-mapping document")
		}
	} else {
		pathMapper = pathmap.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readBlockSize := int64(cfg.ReadBlockSizeMiB) * 1024 * 1024
	connPool, err := pool.New(cfg.MaxPoolSize, func() (pool.Resource, error) {
		return objstore.NewS3Backend(ctx, objstore.S3BackendConfig{
			Provider:  cfg.ObjectStore.Provider,
			Region:    cfg.ObjectStore.Region,
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
		})
	}, pathMapper, readBlockSize)
	if err != nil {
		log.WithError(err).Fatal("failed to construct object-store connection pool")
	}
	defer connPool.ShutdownAll()

	workerRegistry := worker.NewRegistry()
	worker.RegisterDefaults(workerRegistry)

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(promRegistry)
	auditLogger := audit.NewLogger(1000, nil)
	defer auditLogger.Close()

	if *adminAddress != "" {
		adminSrv := admin.New(*adminAddress, promRegistry, log)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				log.WithError(err).Warn("admin server exited with error")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.WithError(err).Fatal("failed to bind listener")
	}

	srv := server.New(ln, server.Config{
		AuthKey:         authKey,
		Registry:        workerRegistry,
		Pool:            connPool,
		DefaultXattrKey: cfg.XattrKey,
		RequestTimeout:  cfg.RequestTimeout,
		Log:             log,
		Metrics:         recorder,
		Audit:           auditLogger,
	})

	var watcher *config.Watcher
	if cfg.AuthKeyFile != "" || cfg.PathMappingFile != "" {
		watcher, err = config.NewWatcher(log.WithField("component", "config-watcher"), func(path string) {
			if path == cfg.AuthKeyFile {
				if k, err := auth.LoadKey(cfg.AuthKeyFile); err == nil {
					srv.SetAuthKey(k)
					log.Info("reloaded auth key after change notification")
				} else {
					log.WithError(err).Warn("failed to reload auth key after change notification")
				}
			}
			if path == cfg.PathMappingFile {
				if mapper, err := pathmap.FromFile(cfg.PathMappingFile); err == nil {
					connPool.SetPathMapper(mapper)
					log.Info("reloaded path mapping after change notification")
				} else {
					log.WithError(err).Warn("failed to reload path mapping after change notification")
				}
			}
		}, cfg.AuthKeyFile, cfg.PathMappingFile)
		if err != nil {
			log.WithError(err).Warn("failed to start configuration watcher; continuing without live reload")
		} else {
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
	}()

	log.WithField("address", cfg.ListenAddress).Info("cephsumd listening")
	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
	log.Info("cephsumd stopped")
}
