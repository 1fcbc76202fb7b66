package receiver

import (
	"context"
	"net"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/nixlim/durtop/internal/config"
)

const gracefulStopTimeout = 5 * time.Second

// GRPCReceiver serves the OTLP LogsService.
type GRPCReceiver struct {
	collogspb.UnimplementedLogsServiceServer

	cfg      config.ReceiverConfig
	handler  Handler
	opts     options
	listener net.Listener
	server   *grpc.Server
}

func NewGRPCReceiver(cfg config.ReceiverConfig, h Handler, opts ...Option) *GRPCReceiver {
	return &GRPCReceiver{
		cfg:     cfg,
		handler: h,
		opts:    newOptions(opts),
	}
}

// Start binds the configured port and serves in the background.
func (r *GRPCReceiver) Start(ctx context.Context) error {
	lis, err := listen(r.cfg.Bind, r.cfg.GRPCPort)
	if err != nil {
		return err
	}
	r.listener = lis

	r.server = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(r.server, r)

	go func() {
		if err := r.server.Serve(lis); err != nil {
			r.opts.logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	r.opts.logger.Info("gRPC receiver listening", zap.String("addr", lis.Addr().String()))
	return nil
}

// Stop drains in-flight calls, forcing the server down after a timeout.
func (r *GRPCReceiver) Stop() {
	if r.server == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracefulStopTimeout):
		r.server.Stop()
	}
}

// Addr returns the bound address, or nil before Start.
func (r *GRPCReceiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *GRPCReceiver) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected := ingest(req, r.handler, r.opts); rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       "log records without an event name were rejected",
		}
	}
	return resp, nil
}
