package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"LendLedger/internal/command"
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
)

// HTTPServer serves the order, admin and query APIs. Order and admin
// requests share the same wire format as the NATS subjects: the body is
// parsed by the ingestion parsers and submitted synchronously to the
// core loop, so the response reflects the command's actual outcome.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	submitter     *ingestion.Submitter
	queryService  *query.QueryService
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the HTTP handlers.
type ServerDeps struct {
	Submitter     *ingestion.Submitter
	QueryService  *query.QueryService
	HealthChecker *observability.HealthChecker
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	s := &HTTPServer{
		addr:          addr,
		submitter:     deps.Submitter,
		queryService:  deps.QueryService,
		healthChecker: deps.HealthChecker,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthChecker.LivenessHandler)
	r.Get("/readyz", s.healthChecker.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/lend", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseLendOrderCreate(data)
			}))
			r.Post("/lend/modify", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseLendOrderModify(data)
			}))
			r.Post("/lend/cancel", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseLendOrderCancel(data)
			}))
			r.Post("/borrow", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseBorrowOrderCreate(data)
			}))
			r.Post("/borrow/modify", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseBorrowOrderModify(data)
			}))
			r.Post("/borrow/cancel", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseBorrowOrderCancel(data)
			}))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/whitelist", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseAssetWhitelist(data)
			}))
			r.Post("/feeds", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParsePriceFeedRegister(data)
			}))
			r.Post("/trusted", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseTrustedEntityAdd(data)
			}))
			r.Post("/whitelister", s.submitHandler(func(data []byte) (command.Command, error) {
				return ingestion.ParseSetWhitelister(data)
			}))
			r.Get("/integrity", s.handleVerifyIntegrity)
		})

		r.Get("/escrows", s.handleGetEscrows)
		r.Get("/escrows/{asset}", s.handleGetEscrow)
		r.Get("/vault", s.handleGetVault)
		r.Get("/operations", s.handleGetOperations)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/positions/lend", s.handleGetLendPositions)
			r.Get("/positions/borrow", s.handleGetBorrowPositions)
			r.Get("/balances/{asset}", s.handleGetWalletBalance)
			r.Get("/journal", s.handleGetJournalHistory)
		})
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start serves HTTP until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// submitHandler parses the request body with the given parser and
// submits the command to the core loop.
func (s *HTTPServer) submitHandler(parse func([]byte) (command.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
			return
		}

		cmd, err := parse(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := s.submitter.Submit(r.Context(), cmd); err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":          "applied",
			"command_type":    cmd.CommandType().String(),
			"idempotency_key": cmd.IdempotencyKey(),
		})
	}
}

func (s *HTTPServer) handleGetEscrows(w http.ResponseWriter, r *http.Request) {
	escrows, err := s.queryService.GetEscrows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, escrows)
}

func (s *HTTPServer) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	escrow, err := s.queryService.GetEscrow(r.Context(), asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if escrow == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no escrow record for asset %q", asset))
		return
	}
	writeJSON(w, http.StatusOK, escrow)
}

func (s *HTTPServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vault, err := s.queryService.GetNativeVault(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if vault == nil {
		writeError(w, http.StatusNotFound, errors.New("native vault not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *HTTPServer) handleGetLendPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid user ID: %w", err))
		return
	}
	positions, err := s.queryService.GetLendPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *HTTPServer) handleGetBorrowPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid user ID: %w", err))
		return
	}
	positions, err := s.queryService.GetBorrowPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *HTTPServer) handleGetWalletBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid user ID: %w", err))
		return
	}
	asset := chi.URLParam(r, "asset")
	balance, err := s.queryService.GetWalletBalance(r.Context(), userID, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *HTTPServer) handleGetJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid user ID: %w", err))
		return
	}

	limit := parseLimit(r, 100)
	var after *int64
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after_sequence: %w", err))
			return
		}
		after = &seq
	}

	entries, err := s.queryService.GetJournalHistory(r.Context(), userID, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	var before *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before_sequence: %w", err))
			return
		}
		before = &seq
	}

	ops, err := s.queryService.GetOperations(r.Context(), limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

// statusForError maps core rejection reasons to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, state.ErrPositionNotFound),
		errors.Is(err, state.ErrPriceFeedNotFound),
		errors.Is(err, ledger.ErrEscrowNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrPositionExists),
		errors.Is(err, state.ErrAlreadyMatched),
		errors.Is(err, state.ErrTokenWhitelisted),
		errors.Is(err, state.ErrPriceFeedExists),
		errors.Is(err, state.ErrTrustedEntityKnown):
		return http.StatusConflict
	case errors.Is(err, state.ErrNotAdmin),
		errors.Is(err, state.ErrNotWhitelister),
		errors.Is(err, state.ErrNotPositionOwner),
		errors.Is(err, state.ErrNotPriceAuthority),
		errors.Is(err, core.ErrUntrustedSubmitter):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrQuoteStale),
		errors.Is(err, oracle.ErrQuoteNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrZeroAmount),
		errors.Is(err, core.ErrSameAssetCollateral),
		errors.Is(err, state.ErrUnsupportedDuration),
		errors.Is(err, state.ErrInterestRateTooHigh),
		errors.Is(err, state.ErrTokenNotAllowed),
		errors.Is(err, state.ErrWhitelistFull),
		errors.Is(err, state.ErrTrustedEntityFull),
		errors.Is(err, state.ErrRegistryFull):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
