package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

const maxListLimit = 200

type summaryResponse struct {
	Stats    ledger.Stats            `json:"stats"`
	Net      string                  `json:"net"`
	ByPerson []personBalanceResponse `json:"by_person"`
}

type personBalanceResponse struct {
	ledger.PersonBalance
	Label string `json:"label"`
	Net   string `json:"net"`
}

// Protected handlers
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	u, err := a.users.GetUser(r.Context(), claims.UserID)
	if errors.Is(err, users.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.serverError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleDebts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	debts, err := a.ledger.Debts(r.Context(), claims.UserID, f)
	if err != nil {
		a.serverError(w, "list debts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(debts))
}

func (a *API) handleDebt(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	d, err := a.ledger.Get(r.Context(), id, claims.UserID)
	var nf *apperr.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, "debt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.serverError(w, "get debt", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	st, err := a.ledger.Stats(r.Context(), claims.UserID)
	if err != nil {
		a.serverError(w, "stats", err)
		return
	}
	people, err := a.ledger.ByPerson(r.Context(), claims.UserID)
	if err != nil {
		a.serverError(w, "by person", err)
		return
	}
	resp := summaryResponse{Stats: st, Net: st.Net().StringFixed(2), ByPerson: []personBalanceResponse{}}
	for _, p := range people {
		resp.ByPerson = append(resp.ByPerson, personBalanceResponse{
			PersonBalance: p,
			Label:         p.Party.Label(),
			Net:           p.Net().StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	debts, err := a.ledger.History(r.Context(), claims.UserID)
	if err != nil {
		a.serverError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(debts))
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	unread := r.URL.Query().Get("unread")
	notes, err := a.ledger.Notifications(r.Context(), claims.UserID, unread == "1" || unread == "true")
	if err != nil {
		a.serverError(w, "notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(notes))
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	err = a.ledger.MarkRead(r.Context(), id, claims.UserID)
	var nf *apperr.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.serverError(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "marked as read"})
}

// parseFilter reads role, status and limit query parameters.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	var f ledger.Filter
	switch q.Get("role") {
	case "", "all":
	case "owe":
		f.Role = ledger.RoleDebtor
	case "owed":
		f.Role = ledger.RoleCreditor
	default:
		return f, errors.New("role must be owe, owed or all")
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := ledger.Status(strings.TrimSpace(s))
			switch st {
			case ledger.StatusPending, ledger.StatusActive, ledger.StatusPaid, ledger.StatusCancelled:
				f.Statuses = append(f.Statuses, st)
			default:
				return f, errors.New("unknown status " + string(st))
			}
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return f, errors.New("limit must be between 1 and 200")
		}
		f.Limit = n
	}
	return f, nil
}

func (a *API) serverError(w http.ResponseWriter, op string, err error) {
	a.log.Error("api request failed", "op", op, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// nonNil keeps empty lists encoded as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
