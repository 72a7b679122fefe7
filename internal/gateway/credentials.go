package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/storage"
)

// credentialJSON is the metadata view of a stored credential. Token
// values are never serialized; only presence flags and timestamps leave
// the process.
type credentialJSON struct {
	IdentityID      string `json:"identity_id"`
	HasAccessToken  bool   `json:"has_access_token"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	Valid           bool   `json:"valid"`
}

func credentialToJSON(rec storage.CredentialRecord, now time.Time) credentialJSON {
	out := credentialJSON{
		IdentityID:      rec.IdentityID,
		HasAccessToken:  rec.AccessToken != "",
		HasRefreshToken: rec.HasRefreshToken(),
		Valid:           credential.IsValid(rec, now),
	}
	if rec.HasExpiry() {
		out.ExpiresAt = rec.Expiry().UTC().Format(time.RFC3339)
	}
	return out
}

// handleListCredentials returns metadata for every stored credential.
func (g *Gateway) handleListCredentials() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		recs, err := g.store.ListCredentials(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list credentials")
			return
		}

		now := time.Now()
		out := make([]credentialJSON, 0, len(recs))
		for _, rec := range recs {
			out = append(out, credentialToJSON(rec, now))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetCredential returns metadata for one identity.
func (g *Gateway) handleGetCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		identity := chi.URLParam(r, "identity")
		rec, err := g.store.Credential(r.Context(), identity)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "credential not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load credential")
			return
		}

		writeJSON(w, http.StatusOK, credentialToJSON(rec, time.Now()))
	}
}

type importRequest struct {
	IdentityID   string         `json:"identity_id"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresAt    int64          `json:"expires_at"`
	Extra        map[string]any `json:"extra"`
}

// handleImportCredential stores an externally obtained credential. The
// response echoes metadata only, never the imported tokens.
func (g *Gateway) handleImportCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.manager == nil {
			writeError(w, http.StatusServiceUnavailable, "credential manager not available")
			return
		}

		var req importRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		req.IdentityID = strings.TrimSpace(req.IdentityID)
		if req.IdentityID == "" || req.AccessToken == "" {
			writeError(w, http.StatusBadRequest, "identity_id and access_token are required")
			return
		}

		rec := storage.CredentialRecord{
			IdentityID:   req.IdentityID,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			ExpiresAt:    req.ExpiresAt,
			Extra:        req.Extra,
		}
		if err := g.manager.Import(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to import credential")
			return
		}

		writeJSON(w, http.StatusCreated, credentialToJSON(rec, time.Now()))
	}
}

// handleDeleteCredential revokes the credential with the provider, then
// removes it from the store.
func (g *Gateway) handleDeleteCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.manager == nil {
			writeError(w, http.StatusServiceUnavailable, "credential manager not available")
			return
		}

		identity := chi.URLParam(r, "identity")
		existed, err := g.manager.Delete(r.Context(), identity)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete credential")
			return
		}
		if !existed {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ensureResponse reports the lifecycle outcome for an identity.
type ensureResponse struct {
	Status     string          `json:"status"`
	Credential *credentialJSON `json:"credential,omitempty"`
}

// handleEnsureCredential runs the credential through the validity check,
// refreshing it when it is inside the renewal window. The response says
// whether a usable credential exists; it does not contain the credential.
func (g *Gateway) handleEnsureCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.manager == nil {
			writeError(w, http.StatusServiceUnavailable, "credential manager not available")
			return
		}

		identity := chi.URLParam(r, "identity")
		res, err := g.manager.GetValid(r.Context(), identity)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "credential check failed")
			return
		}

		resp := ensureResponse{Status: res.Status.String()}
		if res.Found() {
			meta := credentialToJSON(res.Record, time.Now())
			resp.Credential = &meta
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
