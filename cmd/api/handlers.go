package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredInvest/pkg/accrual"
	"github.com/mcclellann/fredInvest/pkg/ledger"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Server holds the ledger and the accrual scheduler behind the HTTP API.
type Server struct {
	ledger    *ledger.Ledger
	scheduler *accrual.Scheduler
	storage   store.Storage
	validate  *validator.Validate
	limiter   *rate.Limiter
	log       *logging.Logger
}

func NewServer(l *ledger.Ledger, sched *accrual.Scheduler, s store.Storage, limiter *rate.Limiter, log *logging.Logger) *Server {
	v := validator.New()
	// Decimal amounts validate as their float value so tags like gt=0 work.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return &Server{
		ledger:    l,
		scheduler: sched,
		storage:   s,
		validate:  v,
		limiter:   limiter,
		log:       log.Component("api"),
	}
}

// Router registers every route on a new mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.rateLimit)

	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	router.HandleFunc("/plans", s.listPlansHandler).Methods("GET")

	router.HandleFunc("/users/{userID}/balance", s.balanceHandler).Methods("GET")
	router.HandleFunc("/users/{userID}/history", s.historyHandler).Methods("GET")
	router.HandleFunc("/users/{userID}/investments", s.listInvestmentsHandler).Methods("GET")
	router.HandleFunc("/users/{userID}/investments", s.placeInvestmentHandler).Methods("POST")
	router.HandleFunc("/users/{userID}/deposits", s.depositHandler).Methods("POST")
	router.HandleFunc("/users/{userID}/withdrawals", s.withdrawalHandler).Methods("POST")
	router.HandleFunc("/users/{userID}/{category:penalties|earnings|bonuses}", s.adjustmentHandler).Methods("POST")

	router.HandleFunc("/transactions/{category}/{id}", s.transactionHandler).Methods("GET")

	router.HandleFunc("/admin/deposits/{id}/confirm", s.confirmDepositHandler).Methods("POST")
	router.HandleFunc("/admin/accrual/run", s.runAccrualHandler).Methods("POST")
	router.HandleFunc("/admin/accrual/last", s.lastAccrualHandler).Methods("GET")
	return router
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Too many requests, please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrUnknownCategory):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error().Err(err).Msg("Request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decode parses the JSON body into req and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Policy().Plans())
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.Balance(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.History(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) listInvestmentsHandler(w http.ResponseWriter, r *http.Request) {
	invs, err := s.ledger.ListInvestments(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

type investmentRequest struct {
	Plan   string          `json:"plan" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

func (s *Server) placeInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	var req investmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	inv, err := s.ledger.PlaceInvestment(r.Context(), mux.Vars(r)["userID"], req.Plan, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type depositRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	TransactionHash string          `json:"transaction_hash" validate:"required"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=255"`
}

func (s *Server) depositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.ledger.RecordDeposit(r.Context(), mux.Vars(r)["userID"], req.Amount, req.TransactionHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Wallet string          `json:"wallet" validate:"required"`
}

func (s *Server) withdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.ledger.RequestWithdrawal(r.Context(), mux.Vars(r)["userID"], req.Amount, req.Wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) adjustmentHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	userID := vars["userID"]

	var (
		e   *models.Entry
		err error
	)
	switch vars["category"] {
	case "penalties":
		e, err = s.ledger.RecordPenalty(r.Context(), userID, req.Amount, req.Note)
	case "earnings":
		e, err = s.ledger.RecordEarning(r.Context(), userID, req.Amount, req.Note)
	case "bonuses":
		e, err = s.ledger.RecordBonus(r.Context(), userID, req.Amount, req.Note)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) transactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := s.ledger.Transaction(r.Context(), mux.Vars(r)["category"], id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) confirmDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	e, err := s.ledger.ConfirmDeposit(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) runAccrualHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.scheduler.Trigger(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) lastAccrualHandler(w http.ResponseWriter, r *http.Request) {
	report, ok := s.scheduler.LastReport()
	if !ok {
		http.Error(w, "No accrual pass has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
