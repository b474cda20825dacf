package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/credential"
	"github.com/launchindex/indexer/internal/indexer"
	"github.com/launchindex/indexer/internal/verify"
)

const defaultPageSize = 50

type createProjectRequest struct {
	UserID              string `json:"user_id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	CredentialID        string `json:"credential_id"`
	GSCProperty         string `json:"gsc_property"`
	IndexNowKey         string `json:"indexnow_key"`
	IndexNowKeyLocation string `json:"indexnow_key_location"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "user_id and name are required")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate project id")
		return
	}
	now := s.clock.Now()
	p := indexer.Project{
		ID:                  id,
		UserID:              req.UserID,
		Name:                req.Name,
		Description:         req.Description,
		CredentialID:        req.CredentialID,
		GSCProperty:         req.GSCProperty,
		IndexNowKey:         req.IndexNowKey,
		IndexNowKeyLocation: req.IndexNowKeyLocation,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectView(p))
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	projects, err := s.store.ListProjects(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, toProjectView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": views})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "project_id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type addAddressesRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) addAddresses(w http.ResponseWriter, r *http.Request) {
	var req addAddressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}

	projectID := chi.URLParam(r, "project_id")
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Balance gate before accepting; the claim re-validates atomically.
	balance, err := s.store.Balance(r.Context(), project.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if balance < len(req.URLs) {
		writeError(w, http.StatusPaymentRequired,
			fmt.Sprintf("need %d credits, have %d", len(req.URLs), balance))
		return
	}

	now := s.clock.Now()
	addrs := make([]indexer.Address, 0, len(req.URLs))
	skipped := 0
	for _, raw := range req.URLs {
		raw = strings.TrimSpace(raw)
		domain := indexer.DomainOf(raw)
		if raw == "" || domain == "" {
			skipped++
			continue
		}
		id, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate address id")
			return
		}
		addrs = append(addrs, indexer.Address{
			ID:        id,
			ProjectID: projectID,
			URL:       raw,
			Domain:    domain,
			Status:    indexer.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	added, err := s.store.CreateAddresses(r.Context(), projectID, addrs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if project.MainDomain == "" && len(addrs) > 0 {
		if err := s.store.SetMainDomain(r.Context(), projectID, addrs[0].Domain); err != nil {
			s.logger.Warn("set main domain failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}

	// Credits are debited when the dispatcher claims each address, not at
	// intake, so the count here is always zero.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"added":           added,
		"skipped":         skipped + (len(addrs) - added),
		"credits_debited": 0,
		"balance":         balance,
	})
}

func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	addrs, err := s.store.ListAddresses(r.Context(), chi.URLParam(r, "project_id"), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addresses": toAddressViews(addrs)})
}

func (s *Server) getAddress(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAddress(r.Context(), chi.URLParam(r, "address_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAddressView(a))
}

func (s *Server) deleteAddress(w http.ResponseWriter, r *http.Request) {
	refunded, err := s.store.DeleteAddress(r.Context(), chi.URLParam(r, "address_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "refunded": refunded})
}

func (s *Server) resubmitAddress(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.ResetForResubmit(r.Context(), chi.URLParam(r, "address_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toAddressView(a))
}

func (s *Server) checkAddress(w http.ResponseWriter, r *http.Request) {
	a, err := s.verifier.VerifyAddress(r.Context(), chi.URLParam(r, "address_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAddressView(a))
}

func (s *Server) addressTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.store.TransactionsForAddress(r.Context(), chi.URLParam(r, "address_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionViews(txs)})
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var buf bytes.Buffer
	if _, err := s.exporter.WriteCSV(r.Context(), projectID, &buf); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "addresses-"+projectID+".csv"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("write csv response failed", zap.Error(err))
	}
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	balance, err := s.store.Balance(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

type addCreditsRequest struct {
	Amount      int    `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (s *Server) addCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	typ := indexer.TransactionType(req.Type)
	if typ == "" {
		typ = indexer.TransactionPurchase
	}
	userID := chi.URLParam(r, "user_id")
	balance, err := s.store.AddCredits(r.Context(), userID, req.Amount, typ, req.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txs, err := s.store.Transactions(r.Context(), chi.URLParam(r, "user_id"), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionViews(txs)})
}

func (s *Server) reportStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusCounts(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": out})
}

func (s *Server) reportChannels(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.ChannelTotals(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": totals})
}

func (s *Server) reportSpeed(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.SpeedBuckets(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) reportIndexedByService(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.IndexedByService(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed_by_service": n})
}

func (s *Server) reportDaily(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}
	series, err := s.store.DailySeries(r.Context(), r.URL.Query().Get("project_id"), days)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": series})
}

type addCredentialRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	JSONKey    string `json:"json_key"`
	DailyQuota int    `json:"daily_quota"`
}

func (s *Server) addCredential(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	email, err := credential.ParseKey([]byte(req.JSONKey))
	if err != nil {
		writeError(w, http.StatusBadRequest, "json_key must be a service-account key")
		return
	}
	if req.Email == "" {
		req.Email = email
	}
	if req.DailyQuota <= 0 {
		req.DailyQuota = indexer.DefaultDailyQuota
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate credential id")
		return
	}
	cred := indexer.Credential{
		ID:         id,
		Name:       req.Name,
		Email:      req.Email,
		JSONKey:    []byte(req.JSONKey),
		DailyQuota: req.DailyQuota,
		IsActive:   true,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.AddCredential(r.Context(), cred); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCredentialView(cred))
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListCredentials(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, toCredentialView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": views})
}

func (s *Server) removeCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveCredential(r.Context(), chi.URLParam(r, "credential_id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) testCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := s.store.GetCredential(r.Context(), chi.URLParam(r, "credential_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.tester.Test(r.Context(), cred); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifySettingsView struct {
	CustomSearchAPIKey string `json:"custom_search_api_key"`
	CustomSearchCSEID  string `json:"custom_search_cse_id"`
	DefaultGSCProperty string `json:"default_gsc_property"`
}

func (s *Server) getVerifySettings(w http.ResponseWriter, _ *http.Request) {
	v := s.settings.Get()
	writeJSON(w, http.StatusOK, verifySettingsView{
		CustomSearchAPIKey: v.CustomSearchAPIKey,
		CustomSearchCSEID:  v.CustomSearchCSEID,
		DefaultGSCProperty: v.DefaultGSCProperty,
	})
}

func (s *Server) updateVerifySettings(w http.ResponseWriter, r *http.Request) {
	var req verifySettingsView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.settings.Set(verify.SettingsValues{
		CustomSearchAPIKey: req.CustomSearchAPIKey,
		CustomSearchCSEID:  req.CustomSearchCSEID,
		DefaultGSCProperty: req.DefaultGSCProperty,
	})
	writeJSON(w, http.StatusOK, req)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}
