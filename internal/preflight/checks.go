package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"

	"ingest/internal/config"
	"ingest/internal/processors"
)

const serviceCheckTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFileReadable verifies that a regular file exists and can be read.
func CheckFileReadable(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a regular file)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckKafka dials each broker and succeeds when any of them answers.
func CheckKafka(ctx context.Context, brokers []string) Result {
	const name = "Kafka"
	if len(brokers) == 0 {
		return Result{Name: name, Detail: "no brokers configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()

	var failures []string
	for _, broker := range brokers {
		conn, err := kafka.DialContext(checkCtx, "tcp", broker)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", broker, summarizeError(err)))
			continue
		}
		_ = conn.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", broker)}
	}
	return Result{Name: name, Detail: strings.Join(failures, "; ")}
}

// CheckPostgres connects with dsn and pings the server.
func CheckPostgres(ctx context.Context, dsn string) Result {
	const name = "Postgres history"
	if strings.TrimSpace(dsn) == "" {
		return Result{Name: name, Detail: "missing dsn"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()

	conn, err := pgx.Connect(checkCtx, dsn)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("connect failed (%s)", summarizeError(err))}
	}
	defer func() { _ = conn.Close(context.Background()) }()
	if err := conn.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%s)", summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckS3 connects to the object store and verifies the bucket exists or can be created.
func CheckS3(ctx context.Context, cfg config.S3) Result {
	const name = "Object store"
	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()

	if _, err := processors.NewS3Client(checkCtx, cfg); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	detail := cfg.Endpoint
	if cfg.Bucket != "" {
		detail += "/" + cfg.Bucket
	}
	return Result{Name: name, Passed: true, Detail: detail + " (ok)"}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
