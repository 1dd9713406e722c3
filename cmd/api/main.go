package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/config"
	"github.com/mcclellann/loanengine/pkg/ledger"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/payments"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validator.New()

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *zap.Logger
}

func NewServer(s store.Storage, logger *zap.Logger, opts ...ledger.Option) *Server {
	opts = append([]ledger.Option{ledger.WithLogger(logger)}, opts...)
	return &Server{
		ledger:  ledger.NewLedger(s, opts...),
		storage: s,
		logger:  logger,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/reconcile", s.reconcileAllHandler).Methods("POST")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule.csv", s.scheduleCSVHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/bills", s.billsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/statement", s.statementHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/reconcile", s.reconcileHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/deposits", s.listDepositsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/deposits", s.recordDepositHandler).Methods("POST")
	return router
}

// clientErrors are failures caused by the request rather than the server.
var clientErrors = []error{
	ledger.ErrInvalidRequest,
	amortization.ErrInvalidLoanAmount,
	amortization.ErrInvalidInterestRate,
	amortization.ErrInvalidRoundingPrecision,
	amortization.ErrInvalidTerm,
	amortization.ErrTermOutOfRange,
	amortization.ErrInvalidPeriodSchedule,
	amortization.ErrInvalidRateSchedule,
	amortization.ErrInvalidDate,
	amortization.ErrInvalidAmount,
	amortization.ErrInvalidParameter,
	amortization.ErrUnknownOption,
	payments.ErrInvalidDeposit,
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	case errors.Is(err, ledger.ErrLoanNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func loanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	req := ledger.CreateLoanRequest{Params: s.ledger.DefaultParams()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// updateLoanHandler replaces the loan parameters. Omitted fields take their
// defaults, not their previous values.
func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	params := s.ledger.DefaultParams()
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stmt, err := s.ledger.UpdateLoanParams(id, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt.Loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	res, err := s.ledger.Schedule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) scheduleCSVHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	res, err := s.ledger.Schedule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule-`+id.String()+`.csv"`)
	if err := amortization.WriteCSV(w, res.Entries); err != nil {
		s.logger.Error("writing csv", zap.Stringer("loan", id), zap.Error(err))
	}
}

func (s *Server) billsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	bills, err := s.ledger.Bills(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	stmt, err := s.ledger.Statement(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	stmt, err := s.ledger.Reconcile(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// reconcileAllHandler re-runs the servicing loop for every active loan.
func (s *Server) reconcileAllHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.ReconcileAll()
	if err != nil {
		s.logger.Error("reconcile failed for some loans", zap.Int("reconciled", n), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int{"reconciled": n})
}

func (s *Server) listDepositsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	deps, err := s.ledger.Deposits(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

type depositRequest struct {
	Amount                 decimal.Decimal `json:"amount"`
	EffectiveDate          civil.Date      `json:"effective_date"`
	ApplyExcessToPrincipal bool            `json:"apply_excess_to_principal"`
	Description            string          `json:"description" validate:"max=255"`
}

type depositResponse struct {
	Deposit   *models.Deposit   `json:"deposit"`
	Statement *ledger.Statement `json:"statement"`
}

func (s *Server) recordDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}

	dep, stmt, err := s.ledger.RecordDeposit(id, models.Deposit{
		Amount:                 req.Amount,
		EffectiveDate:          req.EffectiveDate,
		ApplyExcessToPrincipal: req.ApplyExcessToPrincipal,
		Description:            req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositResponse{Deposit: dep, Statement: stmt})
}

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(cfg.DB.Path, logger)
	if err != nil {
		logger.Fatal("failed to initialize SQLite store", zap.Error(err))
	}
	defer sqliteStore.Close()

	payCfg, err := cfg.PaymentConfig()
	if err != nil {
		logger.Fatal("invalid payments config", zap.Error(err))
	}
	server := NewServer(sqliteStore, logger,
		ledger.WithPaymentConfig(payCfg),
		ledger.WithBillDayDefaults(cfg.Billing.DefaultPreBillDays, cfg.Billing.DefaultDueBillDays),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", zap.String("addr", cfg.HTTP.Addr), zap.String("db", cfg.DB.Path))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
