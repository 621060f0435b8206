package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/auth"
	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/metadata"
	"github.com/xtrntr/resourceswap/internal/models"
)

// MetadataResolver fetches the document behind an asset URI
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) (metadata.Description, error)
	GatewayURL(uri string) string
}

// IdempotencyStore claims and releases request keys
type IdempotencyStore interface {
	SetIdempotency(ctx context.Context, key string) (bool, error)
	ReleaseIdempotency(ctx context.Context, key string) error
}

// Option configures a Handler
type Option func(*Handler)

// WithResolver enables metadata lookups and mint-from-URI
func WithResolver(r MetadataResolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// WithIdempotency enables Idempotency-Key handling
func WithIdempotency(s IdempotencyStore) Option {
	return func(h *Handler) { h.idempotency = s }
}

// WithLogger sets the request logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Handler) { h.log = l }
}

// WithClock replaces the wall clock used as the command time
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService

	resolver    MetadataResolver
	idempotency IdempotencyStore
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, opts ...Option) *Handler {
	h := &Handler{
		Exchange:    ex,
		AuthService: authService,
		log:         logrus.StandardLogger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, string(models.KindInvalidArgument), "invalid request body")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, string(models.KindInvalidArgument), "invalid id")
		return 0, false
	}
	return id, true
}

func caller(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	a, ok := CallerFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	}
	return a, ok
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, string(models.KindInvalidArgument), "username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      user.ID,
		"account": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Config exposes the throttling constants and the engine operator
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	p := h.Exchange.Policy()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cooldown_seconds":      int64(p.Cooldown / time.Second),
		"lock_duration_seconds": int64(p.LockDuration / time.Second),
		"max_owned":             p.MaxOwned,
		"lock_on_mint":          p.LockOnMint,
		"operator":              p.Operator,
	})
}

// GetAsset returns one asset with its token URI
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	a, err := h.Exchange.GetAsset(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetOwner returns the owner of an asset
func (h *Handler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	owner, err := h.Exchange.OwnerOf(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset_id": id, "owner": owner})
}

// GetHistory returns the provenance of an asset
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	history, err := h.Exchange.AssetHistory(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset_id": id, "transfers": history})
}

// GetMetadata resolves the document behind an asset URI
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	a, err := h.Exchange.GetAsset(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.resolver == nil {
		writeFailure(w, http.StatusServiceUnavailable, codeUnavailable, "metadata resolver not configured")
		return
	}
	d, err := h.resolver.Resolve(r.Context(), a.Metadata.URI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset_id":    id,
		"uri":         a.Metadata.URI,
		"gateway_url": h.resolver.GatewayURL(a.Metadata.URI),
		"metadata":    d,
	})
}

// GetAccountAssets lists the assets an account owns
func (h *Handler) GetAccountAssets(w http.ResponseWriter, r *http.Request) {
	account := models.Account(chi.URLParam(r, "account"))
	ids := h.Exchange.AssetsOwnedBy(account)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":   account,
		"balance":   len(ids),
		"asset_ids": ids,
	})
}

// GetThrottle reports the cooldown and lock of an account at the current time
func (h *Handler) GetThrottle(w http.ResponseWriter, r *http.Request) {
	account := models.Account(chi.URLParam(r, "account"))
	th := h.Exchange.ThrottleStateOf(account)
	cooldown := h.Exchange.Policy().Cooldown
	now := h.now()

	body := map[string]interface{}{
		"account":                    account,
		"locked":                     th.Locked(now),
		"cooldown_active":            th.CooldownActive(now, cooldown),
		"lock_remaining_seconds":     int64(th.LockRemaining(now).Seconds()),
		"cooldown_remaining_seconds": int64(th.CooldownRemaining(now, cooldown).Seconds()),
		"last_action_at":             nil,
		"locked_until":               nil,
	}
	if !th.LastActionAt.IsZero() {
		body["last_action_at"] = th.LastActionAt
	}
	if !th.LockedUntil.IsZero() {
		body["locked_until"] = th.LockedUntil
	}
	writeJSON(w, http.StatusOK, body)
}

// ListOffers supports ?active=true and ?offerer=account
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := exchange.OfferFilter{Offerer: models.Account(q.Get("offerer"))}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, string(models.KindInvalidArgument), "active must be a boolean")
			return
		}
		f.ActiveOnly = active
	}
	writeJSON(w, http.StatusOK, h.Exchange.ListOffers(f))
}

// GetOffer returns one offer
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	o, err := h.Exchange.GetOffer(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// NextOfferID returns the id the next offer will receive
func (h *Handler) NextOfferID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"next_offer_id": h.Exchange.NextOfferID()})
}

type mintRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Tier  *int   `json:"tier"`
	Value *int64 `json:"value"`
	URI   string `json:"uri"`
}

// Mint creates an asset for the caller. When only a URI is given and a
// resolver is configured, the missing fields come from the document.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}

	meta := models.Metadata{Name: req.Name, Type: req.Type, URI: req.URI}
	if req.Name == "" && req.URI != "" && h.resolver != nil {
		d, err := h.resolver.Resolve(r.Context(), req.URI)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		meta.Name = d.Name
		if meta.Type == "" {
			meta.Type = d.Type
		}
		if req.Tier == nil {
			req.Tier = &d.Tier
		}
		if req.Value == nil {
			req.Value = &d.Value
		}
	}
	if meta.Type == "" {
		meta.Type = "animal"
	}
	meta.Tier = 1
	if req.Tier != nil {
		meta.Tier = *req.Tier
	}
	if req.Value != nil {
		meta.Value = *req.Value
	}

	id, err := h.Exchange.MintResource(r.Context(), account, meta, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"asset_id": id, "owner": account, "metadata": meta})
}

// Approve sets the single approved operator of an asset. A missing operator
// means the engine operator; an empty one clears the approval.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Operator *string `json:"operator"`
	}
	if !decode(w, r, &req) {
		return
	}
	operator := h.Exchange.Policy().Operator
	if req.Operator != nil {
		operator = models.Account(*req.Operator)
	}

	if err := h.Exchange.Approve(r.Context(), account, id, operator, h.now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset_id": id, "operator": operator})
}

// SetOperator grants or revokes operator rights over all caller assets
func (h *Handler) SetOperator(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Operator *string `json:"operator"`
		Approved bool    `json:"approved"`
	}
	if !decode(w, r, &req) {
		return
	}
	operator := h.Exchange.Policy().Operator
	if req.Operator != nil {
		operator = models.Account(*req.Operator)
	}

	if err := h.Exchange.SetApprovalForAll(r.Context(), account, operator, req.Approved, h.now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operator": operator, "approved": req.Approved})
}

// CreateOffer lists one caller asset against a requested asset
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		OfferedAssetID   int64 `json:"offered_asset_id"`
		RequestedAssetID int64 `json:"requested_asset_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Exchange.CreateOffer(r.Context(), account, req.OfferedAssetID, req.RequestedAssetID, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"offer_id": id})
}

// AcceptOffer swaps the assets of an offer
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.Exchange.AcceptOffer(r.Context(), account, id, h.now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Exchange.GetOffer(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOffer deactivates an offer of the caller
func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.Exchange.CancelOffer(r.Context(), account, id, h.now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Exchange.GetOffer(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
