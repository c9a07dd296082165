package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/metrics"
	"github.com/fentz26/beacon/internal/protocol"
)

// MaxResultBytes caps the compressed result body the boundary will read.
const MaxResultBytes = 8 << 20

const malformedBody = "malformed payload"

// Server is the dispatch boundary. It answers agent polls on any path and
// tells them apart by the Status header.
type Server struct {
	service *Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		service: service,
		metrics: m,
		logger:  logging.Component(logging.OrNop(logger), "boundary"),
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}
	return s
}

// Handler returns the boundary handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}

	switch r.Header.Get(protocol.HeaderStatus) {
	case protocol.StatusTask:
		s.handleTask(w)
	case protocol.StatusResult:
		s.handleResult(w, r)
	default:
		s.notFound(w)
	}
}

// handleTask answers a poll with the next task or the no-work sentinel.
func (s *Server) handleTask(w http.ResponseWriter) {
	task, ok := s.service.NextTask()
	body, err := protocol.EncodeTaskResponse(task, ok)
	if err != nil {
		s.logger.Error("encode task response", "task_id", task.ID, "error", err)
		s.reply(w, protocol.StatusTask, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", protocol.ContentType)
	s.reply(w, protocol.StatusTask, http.StatusOK, body)
}

// handleResult reads a result submission and completes the in-flight task.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.logger.Warn("rejected result body", "remote", r.RemoteAddr, "error", err)
		s.metrics.IncProtocolError()
		code := http.StatusBadRequest
		if errors.Is(err, ErrPayloadTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		s.reply(w, protocol.StatusResult, code, []byte(malformedBody))
		return
	}
	s.metrics.ObserveResultBytes(len(body))

	result, err := protocol.DecodeResult(body)
	if err != nil {
		s.logger.Warn("malformed result payload", "remote", r.RemoteAddr, "error", err)
		s.metrics.IncProtocolError()
		s.reply(w, protocol.StatusResult, http.StatusBadRequest, []byte(malformedBody))
		return
	}

	s.service.SubmitResult(result)
	s.reply(w, protocol.StatusResult, http.StatusOK, nil)
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.reply(w, "other", http.StatusNotFound, nil)
}

func (s *Server) reply(w http.ResponseWriter, status string, code int, body []byte) {
	s.metrics.ObserveRequest(status, strconv.Itoa(code))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if len(body) > 0 {
		w.Write(body)
	}
}

// readBody reads exactly Content-Length bytes. Requests without a length are
// read to EOF. Both are capped at MaxResultBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > MaxResultBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, r.ContentLength)
	}

	body := http.MaxBytesReader(w, r.Body, MaxResultBytes)
	if r.ContentLength >= 0 {
		buf := make([]byte, r.ContentLength)
		if _, err := io.ReadFull(body, buf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedBody, err)
		}
		return buf, nil
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
		}
		return nil, fmt.Errorf("read result body: %w", err)
	}
	return buf, nil
}
