// Command loadtest drives a fixed number of worker goroutines against a
// running cephsumd instance at a target rate for a fixed duration, then
// reports latency percentiles and error counts per request type.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snafus/cephsum-server/internal/auth"
	"github.com/snafus/cephsum-server/internal/wire"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:9999", "cephsumd listen address")
		authKeyFile = flag.String("auth-key-file", "", "Path to the shared HMAC authentication key file")
		msgType     = flag.String("msg", "ping", "Request type to send: ping, stat, or cksum")
		objPath     = flag.String("path", "", "Object path for stat/cksum requests (e.g. mypool:/obj)")
		algType     = flag.String("algtype", "adler32", "Checksum algorithm for cksum requests")
		action      = flag.String("action", "fileonly", "Checksum action for cksum requests")
		workers     = flag.Int("workers", 10, "Number of concurrent worker goroutines")
		qps         = flag.Int("qps", 10, "Target requests per second, per worker")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	authKey, err := auth.LoadKey(*authKeyFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load authentication key")
	}

	req := map[string]interface{}{"msg": *msgType}
	switch *msgType {
	case "stat", "cksum":
		if *objPath == "" {
			log.Fatal("-path is required for stat and cksum requests")
		}
		req["path"] = *objPath
		if *msgType == "cksum" {
			req["algtype"] = *algType
			req["action"] = *action
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := newStatsCollector()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, workerID, *addr, authKey, req, *qps, collector, log)
		}(i)
	}

	log.WithFields(logrus.Fields{
		"addr": *addr, "msg": *msgType, "workers": *workers, "qps_per_worker": *qps, "duration": *duration,
	}).Info("load test starting")

	select {
	case <-time.After(*duration):
	case <-ctx.Done():
		log.Info("received interrupt, stopping")
	}
	cancel()
	wg.Wait()

	collector.Report(log)
}

// runWorker opens one connection, completes the handshake, and sends req
// at the target rate until ctx is cancelled. A fresh connection is opened
// after any transport error, so a single dropped connection does not end
// the worker.
func runWorker(ctx context.Context, id int, addr string, authKey []byte, req map[string]interface{}, qps int, collector *statsCollector, log *logrus.Logger) {
	ticker := time.NewTicker(time.Second / time.Duration(maxInt(qps, 1)))
	defer ticker.Stop()

	var conn net.Conn
	connect := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return err
		}
		return auth.AnswerChallenge(conn, authKey)
	}

	for {
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		case <-ticker.C:
		}

		if conn == nil {
			if err := connect(); err != nil {
				log.WithError(err).WithField("worker", id).Debug("connect failed")
				collector.RecordError()
				continue
			}
		}

		start := time.Now()
		err := sendRequest(ctx, conn, req)
		elapsed := time.Since(start)
		if err != nil {
			log.WithError(err).WithField("worker", id).Debug("request failed")
			collector.RecordError()
			conn.Close()
			conn = nil
			continue
		}
		collector.RecordSuccess(elapsed)
	}
}

func sendRequest(ctx context.Context, conn net.Conn, req map[string]interface{}) error {
	if err := wire.Send(conn, req); err != nil {
		return err
	}
	_, ok, err := wire.Recv(ctx, conn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connection closed before reply")
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// statsCollector accumulates latencies and error counts across workers
// under a single mutex; contention is negligible next to network I/O.
type statsCollector struct {
	mu         sync.Mutex
	latencies  []time.Duration
	errorCount int64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

func (s *statsCollector) RecordSuccess(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *statsCollector) RecordError() {
	atomic.AddInt64(&s.errorCount, 1)
}

func (s *statsCollector) Report(log *logrus.Logger) {
	s.mu.Lock()
	latencies := make([]time.Duration, len(s.latencies))
	copy(latencies, s.latencies)
	s.mu.Unlock()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	total := len(latencies)
	errs := atomic.LoadInt64(&s.errorCount)

	fields := logrus.Fields{
		"requests": total,
		"errors":   errs,
	}
	if total > 0 {
		fields["p50_ms"] = latencies[percentileIndex(total, 0.50)].Milliseconds()
		fields["p95_ms"] = latencies[percentileIndex(total, 0.95)].Milliseconds()
		fields["p99_ms"] = latencies[percentileIndex(total, 0.99)].Milliseconds()
		fields["max_ms"] = latencies[total-1].Milliseconds()
	}
	log.WithFields(fields).Info("load test complete")
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
