// Package server exposes the reading engine as Connect RPC procedures.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/at-ishikawa/readingquest/internal/engine"
	"github.com/at-ishikawa/readingquest/internal/gamification"
	"github.com/at-ishikawa/readingquest/internal/identity"
	"github.com/at-ishikawa/readingquest/internal/progress"
)

// ServiceName is the fully-qualified name of the reading service.
const ServiceName = "readingquest.v1.ReadingService"

const (
	ValidateSegmentProcedure    = "/" + ServiceName + "/ValidateSegment"
	ConsumeJokerProcedure       = "/" + ServiceName + "/ConsumeJoker"
	GetProgressProcedure        = "/" + ServiceName + "/GetProgress"
	GetLibraryProgressProcedure = "/" + ServiceName + "/GetLibraryProgress"
	GetLockStatusProcedure      = "/" + ServiceName + "/GetLockStatus"
	GetStatsProcedure           = "/" + ServiceName + "/GetStats"
	RecordPositionProcedure     = "/" + ServiceName + "/RecordPosition"
	MarkCompletedProcedure      = "/" + ServiceName + "/MarkCompleted"
)

const requestIDHeader = "X-Request-Id"

// LibraryProgressResponse wraps the projections so the response is a JSON object.
type LibraryProgressResponse struct {
	Books []progress.Projection `json:"books"`
}

// ReadingHandler serves the reading service procedures.
type ReadingHandler struct {
	service  *engine.Service
	identity identity.Provider
	logger   *slog.Logger
}

// NewReadingHandler creates a new ReadingHandler.
func NewReadingHandler(service *engine.Service, provider identity.Provider, logger *slog.Logger) *ReadingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadingHandler{
		service:  service,
		identity: provider,
		logger:   logger,
	}
}

// Handler returns an http.Handler serving every procedure of the service.
func (h *ReadingHandler) Handler() http.Handler {
	opts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec()),
		connect.WithInterceptors(h.interceptor()),
	}
	readOpts := append([]connect.HandlerOption{connect.WithIdempotency(connect.IdempotencyNoSideEffects)}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ValidateSegmentProcedure, connect.NewUnaryHandler(ValidateSegmentProcedure, h.ValidateSegment, opts...))
	mux.Handle(ConsumeJokerProcedure, connect.NewUnaryHandler(ConsumeJokerProcedure, h.ConsumeJoker, opts...))
	mux.Handle(RecordPositionProcedure, connect.NewUnaryHandler(RecordPositionProcedure, h.RecordPosition, opts...))
	mux.Handle(MarkCompletedProcedure, connect.NewUnaryHandler(MarkCompletedProcedure, h.MarkCompleted, opts...))
	mux.Handle(GetProgressProcedure, connect.NewUnaryHandler(GetProgressProcedure, h.GetProgress, readOpts...))
	mux.Handle(GetLibraryProgressProcedure, connect.NewUnaryHandler(GetLibraryProgressProcedure, h.GetLibraryProgress, readOpts...))
	mux.Handle(GetLockStatusProcedure, connect.NewUnaryHandler(GetLockStatusProcedure, h.GetLockStatus, readOpts...))
	mux.Handle(GetStatsProcedure, connect.NewUnaryHandler(GetStatsProcedure, h.GetStats, readOpts...))
	return mux
}

// interceptor resolves the caller, tags the request with an ID, and logs it.
func (h *ReadingHandler) interceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			requestID := req.Header().Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			logger := h.logger.With("procedure", req.Spec().Procedure, "request_id", requestID)

			userID, err := h.identity.UserID(req.Header())
			if err != nil {
				logger.Debug("rejected unauthenticated request")
				return nil, toConnectError(err)
			}
			ctx = identity.WithUser(ctx, userID)

			started := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				connectErr := toConnectError(err)
				level := slog.LevelInfo
				if connectErr.Code() == connect.CodeInternal || connectErr.Code() == connect.CodeUnavailable {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "request failed", "user", userID, "code", connectErr.Code().String(), "error", err)
				return nil, connectErr
			}
			resp.Header().Set(requestIDHeader, requestID)
			logger.Debug("request served", "user", userID, "elapsed", time.Since(started))
			return resp, nil
		}
	}
}

// userID returns the caller resolved by the interceptor.
func userID(ctx context.Context) (string, error) {
	if id, ok := identity.UserFrom(ctx); ok {
		return id, nil
	}
	return "", identity.ErrUnauthenticated
}

// ValidateSegment checks an answer for a segment.
func (h *ReadingHandler) ValidateSegment(
	ctx context.Context,
	req *connect.Request[engine.ValidateSegmentRequest],
) (*connect.Response[engine.ValidateSegmentResult], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = req.Header().Get("Idempotency-Key")
	}

	result, err := h.service.ValidateSegment(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp := connect.NewResponse(&result)
	if result.Outcome == engine.OutcomeLocked {
		resp.Header().Set("Retry-After", strconv.Itoa(result.RemainingSeconds))
	}
	return resp, nil
}

// ConsumeJoker reveals the answer of a segment with a joker.
func (h *ReadingHandler) ConsumeJoker(
	ctx context.Context,
	req *connect.Request[engine.ConsumeJokerRequest],
) (*connect.Response[engine.ConsumeJokerResult], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	result, err := h.service.ConsumeJoker(ctx, msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&result), nil
}

// GetProgress returns the progress through one book.
func (h *ReadingHandler) GetProgress(
	ctx context.Context,
	req *connect.Request[engine.ProgressRequest],
) (*connect.Response[progress.Projection], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	projection, err := h.service.GetProgress(ctx, msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&projection), nil
}

// GetLibraryProgress returns the progress through many books.
func (h *ReadingHandler) GetLibraryProgress(
	ctx context.Context,
	req *connect.Request[engine.LibraryProgressRequest],
) (*connect.Response[LibraryProgressResponse], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	projections, err := h.service.GetLibraryProgress(ctx, msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&LibraryProgressResponse{Books: projections}), nil
}

// GetLockStatus reports whether a segment is locked.
func (h *ReadingHandler) GetLockStatus(
	ctx context.Context,
	req *connect.Request[engine.LockStatusRequest],
) (*connect.Response[engine.LockStatus], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	status, err := h.service.GetLockStatus(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp := connect.NewResponse(&status)
	if status.Locked && status.RemainingSeconds != nil {
		resp.Header().Set("Retry-After", strconv.Itoa(*status.RemainingSeconds))
	}
	return resp, nil
}

// GetStats returns the caller's experience, badges, quests, streak and companion.
func (h *ReadingHandler) GetStats(
	ctx context.Context,
	req *connect.Request[engine.StatsRequest],
) (*connect.Response[gamification.Profile], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := h.service.GetStats(ctx, engine.StatsRequest{UserID: user})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&profile), nil
}

// RecordPosition stores the caller's reading position in a book.
func (h *ReadingHandler) RecordPosition(
	ctx context.Context,
	req *connect.Request[engine.RecordPositionRequest],
) (*connect.Response[progress.Projection], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	projection, err := h.service.RecordPosition(ctx, msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&projection), nil
}

// MarkCompleted flags a book as finished.
func (h *ReadingHandler) MarkCompleted(
	ctx context.Context,
	req *connect.Request[engine.ProgressRequest],
) (*connect.Response[progress.Projection], error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	msg := *req.Msg
	msg.UserID = user

	projection, err := h.service.MarkCompleted(ctx, msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&projection), nil
}
