// Package receiver accepts OTLP log exports over gRPC and HTTP and hands each
// decoded record to a Handler.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/processor"
)

// Handler consumes decoded records.
type Handler interface {
	Handle(rec processor.Record)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(rec processor.Record)

func (f HandlerFunc) Handle(rec processor.Record) { f(rec) }

type options struct {
	logger       *zap.Logger
	recordLogger Logger
	now          func() time.Time
}

// Option configures a receiver.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecordLogger writes every decoded record to l.
func WithRecordLogger(l Logger) Option {
	return func(o *options) { o.recordLogger = l }
}

// WithClock sets the time source used for records that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		recordLogger: NopLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ingest decodes req and dispatches its records to h. It returns the number
// of records that could not be decoded.
func ingest(req *collogspb.ExportLogsServiceRequest, h Handler, o options) int64 {
	records, rejected := convertRequest(req, o.now())
	for _, rec := range records {
		o.recordLogger.LogRecord(rec)
		h.Handle(rec)
	}
	if rejected > 0 {
		o.logger.Debug("rejected log records without an event name", zap.Int64("count", rejected))
	}
	return rejected
}

func listen(bind string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("port %d already in use", port)
		}
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return lis, nil
}

// Receiver runs the gRPC and HTTP receivers together.
type Receiver struct {
	GRPC *GRPCReceiver
	HTTP *HTTPReceiver
}

func New(cfg config.ReceiverConfig, h Handler, opts ...Option) *Receiver {
	return &Receiver{
		GRPC: NewGRPCReceiver(cfg, h, opts...),
		HTTP: NewHTTPReceiver(cfg, h, opts...),
	}
}

// Start starts both listeners. If the HTTP receiver fails to start, the gRPC
// receiver is stopped again.
func (r *Receiver) Start(ctx context.Context) error {
	if err := r.GRPC.Start(ctx); err != nil {
		return fmt.Errorf("starting gRPC receiver: %w", err)
	}
	if err := r.HTTP.Start(ctx); err != nil {
		r.GRPC.Stop()
		return fmt.Errorf("starting HTTP receiver: %w", err)
	}
	return nil
}

func (r *Receiver) Stop() {
	r.HTTP.Stop()
	r.GRPC.Stop()
}
