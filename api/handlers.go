package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"xdao.co/drinkpoap/batch"
	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
)

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, r, http.StatusServiceUnavailable, model.KindConfiguration.Code(), what+" is not configured")
}

type tokenRequest struct {
	VenueID string `json:"venue_id"`
	Purpose string `json:"purpose"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	QRPayload string    `json:"qr_payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

type legacyTokenResponse struct {
	QRToken    string    `json:"qrToken"`
	QRCodeData string    `json:"qrCodeData"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (h *Handler) mintToken(w http.ResponseWriter, r *http.Request, operation string) (tokenResponse, bool) {
	if h.deps.Tokens == nil {
		h.unavailable(w, r, "token service")
		return tokenResponse{}, false
	}
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(w, r, operation, err, nil)
		return tokenResponse{}, false
	}
	venue := strings.TrimSpace(req.VenueID)
	if venue == "" {
		venue = h.deps.DefaultVenue
	}
	tok, err := h.deps.Tokens.Issue(venue, req.Purpose)
	if err != nil {
		writeMappedError(w, r, operation, err, nil)
		return tokenResponse{}, false
	}
	return tokenResponse{
		Token:     tok.Raw,
		QRPayload: h.deps.Tokens.QRPayload(tok.Raw),
		ExpiresAt: tok.ExpiresAt,
	}, true
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.mintToken(w, r, "issue_token")
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// issueTokenLegacy serves the original QR endpoint's response shape.
func (h *Handler) issueTokenLegacy(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.mintToken(w, r, "issue_token_legacy")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, legacyTokenResponse{
		QRToken:    resp.Token,
		QRCodeData: resp.QRPayload,
		ExpiresAt:  resp.ExpiresAt,
	})
}

type beerListResponse struct {
	Source   catalog.Source `json:"source"`
	Degraded bool           `json:"degraded"`
	Items    []catalog.Item `json:"items"`
}

func (h *Handler) beerList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		h.unavailable(w, r, "catalog")
		return
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.KindTokenInvalid.Code(), "missing bearer token")
		return
	}
	snap, err := h.deps.Catalog.Fetch(r.Context(), raw)
	if err != nil {
		writeMappedError(w, r, "beer_list", err, nil)
		return
	}
	items := snap.Items
	if items == nil {
		items = []catalog.Item{}
	}
	writeJSON(w, http.StatusOK, beerListResponse{Source: snap.Source, Degraded: snap.Degraded, Items: items})
}

// entryInput is a drink as submitted by a client. Missing ids and
// timestamps are assigned on receipt, so a client that wants to resend an
// unchanged list must echo the stored id and addedAt.
type entryInput struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Image       model.Pointer `json:"imageUrl"`
	AddedAt     *time.Time    `json:"addedAt"`
}

func (h *Handler) toEntries(in []entryInput) []metadata.Entry {
	out := make([]metadata.Entry, 0, len(in))
	for _, e := range in {
		now := h.deps.Now()
		if e.AddedAt != nil {
			now = *e.AddedAt
		}
		entry := metadata.NewEntry(e.Name, e.Description, e.Image, now)
		if id := strings.TrimSpace(e.ID); id != "" {
			entry.ID = id
		}
		out = append(out, entry)
	}
	return out
}

// signedIdentity returns the authenticated identity, rejecting a body
// field that names someone else.
func signedIdentity(r *http.Request, named, field string) (model.Identity, error) {
	who := identityFromContext(r.Context())
	if who.IsZero() {
		return "", model.NewError(model.KindUnauthenticated, "request is not signed")
	}
	if strings.TrimSpace(named) != "" && !who.Equal(model.Identity(named)) {
		return "", model.Errorf(model.KindNotAuthorized, "%s does not match the signing identity", field)
	}
	return who, nil
}

type claimRequest struct {
	// Identity is optional; when present it must be the signer.
	Identity string        `json:"identity"`
	Entries  []entryInput  `json:"entries"`
	Pointer  model.Pointer `json:"pointer"`
}

func claimStatus(out claim.Outcome) int {
	switch {
	case out.State == claim.StateConfirmed:
		return http.StatusCreated
	case out.Reason == claim.ReasonAlreadyClaimed:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) createClaim(w http.ResponseWriter, r *http.Request) {
	if h.deps.Claims == nil {
		h.unavailable(w, r, "claims")
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(w, r, "claim", err, nil)
		return
	}
	who, err := signedIdentity(r, req.Identity, "identity")
	if err != nil {
		writeMappedError(w, r, "claim", err, nil)
		return
	}
	out, err := h.deps.Claims.Claim(r.Context(), claim.Request{
		Identity: who,
		Entries:  h.toEntries(req.Entries),
		Pointer:  req.Pointer,
	})
	if err != nil {
		writeMappedError(w, r, "claim", err, nil)
		return
	}
	writeJSON(w, claimStatus(out), out)
}

// recordIDs accepts "1,2,3", "1 2 3" or [1,2,3].
type recordIDs []model.RecordID

func (ids *recordIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := batch.ParseRecordIDs(s)
		if err != nil {
			return err
		}
		*ids = parsed
		return nil
	}
	var list []uint64
	if err := json.Unmarshal(b, &list); err != nil {
		return model.WrapError(model.KindInvalidInput, "record_ids must be a string or an array of integers", err)
	}
	out := make([]model.RecordID, len(list))
	for i, n := range list {
		out[i] = model.RecordID(n)
	}
	*ids = out
	return nil
}

type batchRequest struct {
	// Caller is optional; when present it must be the signer.
	Caller          string       `json:"caller"`
	RecordIDs       recordIDs    `json:"record_ids"`
	Entries         []entryInput `json:"entries"`
	SkipIfUnchanged bool         `json:"skip_if_unchanged"`
}

func (h *Handler) batchUpdate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Batches == nil {
		h.unavailable(w, r, "batch updates")
		return
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(w, r, "batch_update", err, nil)
		return
	}
	caller, err := signedIdentity(r, req.Caller, "caller")
	if err != nil {
		writeMappedError(w, r, "batch_update", err, nil)
		return
	}
	if err := checkBatchEntries(req); err != nil {
		writeMappedError(w, r, "batch_update", err, nil)
		return
	}
	res, err := h.deps.Batches.Update(r.Context(), batch.Request{
		Caller:          caller,
		RecordIDs:       req.RecordIDs,
		Entries:         h.toEntries(req.Entries),
		SkipIfUnchanged: req.SkipIfUnchanged,
	})
	if err != nil {
		var partial any
		if len(res.NotAttempted) > 0 {
			partial = res
		}
		writeMappedError(w, r, "batch_update", err, partial)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkBatchEntries requires the full drink list. With skip_if_unchanged
// every entry must carry its stored id and addedAt, or nothing could match.
func checkBatchEntries(req batchRequest) error {
	if len(req.Entries) == 0 {
		return model.NewError(model.KindInvalidInput, "entries must list the full drink collection")
	}
	if !req.SkipIfUnchanged {
		return nil
	}
	for i, e := range req.Entries {
		if strings.TrimSpace(e.ID) == "" || e.AddedAt == nil {
			return model.Errorf(model.KindInvalidInput, "entry %d needs id and addedAt when skip_if_unchanged is set", i)
		}
	}
	return nil
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	if h.deps.Documents == nil {
		h.unavailable(w, r, "documents")
		return
	}
	p, err := model.ParsePointer(chi.URLParam(r, "cid"))
	if err != nil {
		writeMappedError(w, r, "get_document", err, nil)
		return
	}
	b, err := h.deps.Documents.Raw(r.Context(), p)
	if err != nil {
		writeMappedError(w, r, "get_document", err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+p.CID().String()+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
