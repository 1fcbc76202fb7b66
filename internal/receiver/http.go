package receiver

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/nixlim/durtop/internal/config"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"

	maxBodyBytes = 10 << 20
)

// HTTPReceiver serves OTLP/HTTP log exports on /v1/logs and Prometheus
// metrics on /metrics.
type HTTPReceiver struct {
	cfg      config.ReceiverConfig
	handler  Handler
	opts     options
	listener net.Listener
	server   *http.Server
}

func NewHTTPReceiver(cfg config.ReceiverConfig, h Handler, opts ...Option) *HTTPReceiver {
	return &HTTPReceiver{
		cfg:     cfg,
		handler: h,
		opts:    newOptions(opts),
	}
}

func (r *HTTPReceiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", r.handleLogs)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the configured port and serves in the background.
func (r *HTTPReceiver) Start(ctx context.Context) error {
	lis, err := listen(r.cfg.Bind, r.cfg.HTTPPort)
	if err != nil {
		return err
	}
	r.listener = lis

	r.server = &http.Server{
		Handler:      r.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			r.opts.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	r.opts.logger.Info("HTTP receiver listening", zap.String("addr", lis.Addr().String()))
	return nil
}

func (r *HTTPReceiver) Stop() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		r.opts.logger.Warn("HTTP server shutdown", zap.Error(err))
	}
}

// Addr returns the bound address, or nil before Start.
func (r *HTTPReceiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || (mediaType != contentTypeProtobuf && mediaType != contentTypeJSON) {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	export := &collogspb.ExportLogsServiceRequest{}
	if mediaType == contentTypeJSON {
		err = protojson.Unmarshal(body, export)
	} else {
		err = proto.Unmarshal(body, export)
	}
	if err != nil {
		r.opts.logger.Debug("invalid OTLP payload", zap.String("content_type", mediaType), zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected := ingest(export, r.handler, r.opts); rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       "log records without an event name were rejected",
		}
	}

	var out []byte
	if mediaType == contentTypeJSON {
		out, err = protojson.Marshal(resp)
	} else {
		out, err = proto.Marshal(resp)
	}
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
