package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/getsentry/sentry-go"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// CreateClientRequest is the registry create payload
type CreateClientRequest struct {
	ClientName         string  `json:"client_name" validate:"required,max=200"`
	Industry           string  `json:"industry" validate:"required,max=100"`
	SpecialistEmail    *string `json:"specialist_email,omitempty" validate:"omitempty,max=254"`
	GoogleAdsID        *string `json:"google_ads_id,omitempty" validate:"omitempty,google_ads_id"`
	MetaAccountID      *string `json:"meta_account_id,omitempty" validate:"omitempty,meta_account_id"`
	TikTokAdvertiserID *string `json:"tiktok_advertiser_id,omitempty" validate:"omitempty,numeric"`
	GA4PropertyID      *string `json:"ga4_property_id,omitempty" validate:"omitempty,numeric"`
	GSCProperty        *string `json:"gsc_property,omitempty" validate:"omitempty,max=255"`
	MerchantCenterID   *string `json:"merchant_center_id,omitempty" validate:"omitempty,numeric"`
	Active             *bool   `json:"active,omitempty"`
}

// UpdateClientRequest toggles a client on or off
type UpdateClientRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (req *CreateClientRequest) normalise() {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.Industry = strings.TrimSpace(req.Industry)
	for _, p := range []**string{
		&req.SpecialistEmail, &req.GoogleAdsID, &req.MetaAccountID, &req.TikTokAdvertiserID,
		&req.GA4PropertyID, &req.GSCProperty, &req.MerchantCenterID,
	} {
		if *p == nil {
			continue
		}
		v := strings.TrimSpace(**p)
		if v == "" {
			*p = nil
			continue
		}
		*p = &v
	}
}

// validate runs struct rules then the specialist email checks
func (req *CreateClientRequest) validate() error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.SpecialistEmail != nil {
		return checkSpecialistEmail(*req.SpecialistEmail)
	}
	return nil
}

func (req *CreateClientRequest) toClient() *db.Client {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &db.Client{
		ClientName:         req.ClientName,
		Industry:           req.Industry,
		SpecialistEmail:    req.SpecialistEmail,
		GoogleAdsID:        req.GoogleAdsID,
		MetaAccountID:      req.MetaAccountID,
		TikTokAdvertiserID: req.TikTokAdvertiserID,
		GA4PropertyID:      req.GA4PropertyID,
		GSCProperty:        req.GSCProperty,
		MerchantCenterID:   req.MerchantCenterID,
		Active:             active,
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ClientsHandler serves the client collection
func (h *Handler) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listClients(w, r)
	case http.MethodPost:
		h.requireAuth(h.createClient).ServeHTTP(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

// ClientHandler serves a single client
func (h *Handler) ClientHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getClient(w, r)
	case http.MethodPatch:
		h.requireAuth(h.updateClient).ServeHTTP(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	clients, err := h.DB.ListClients(r.Context(), activeOnly)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"clients": clients,
		"count":   len(clients),
	}, "")
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	logger := loggerWithRequest(r)

	var req CreateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	req.normalise()
	if err := req.validate(); err != nil {
		ValidationFailed(w, r, err.Error())
		return
	}

	client := req.toClient()
	clientID, err := h.DB.InsertClient(r.Context(), client)
	if err != nil {
		sentry.CaptureException(err)
		DatabaseError(w, r, err)
		return
	}

	logger.Info().Str("client_id", clientID).Str("client_name", client.ClientName).Msg("Client created")
	WriteCreated(w, r, client, "Client created")
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.DB.GetClient(r.Context(), r.PathValue("id"))
	if err != nil {
		if HandleNotFound(w, r, err) {
			return
		}
		DatabaseError(w, r, err)
		return
	}
	WriteSuccess(w, r, client, "")
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")

	var req UpdateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	if err := validateStruct(&req); err != nil {
		ValidationFailed(w, r, err.Error())
		return
	}

	if err := h.DB.SetClientActive(r.Context(), clientID, *req.Active); err != nil {
		if HandleNotFound(w, r, err) {
			return
		}
		DatabaseError(w, r, err)
		return
	}

	client, err := h.DB.GetClient(r.Context(), clientID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	logger := loggerWithRequest(r)
	logger.Info().Str("client_id", clientID).Bool("active", client.Active).Msg("Client updated")
	WriteSuccess(w, r, client, "Client updated")
}

// legacyRequired are the fields /add-client insists on
var legacyRequired = []string{"client_name", "industry"}

// AddClientLegacy is the original create endpoint. A body that is not a JSON
// object is treated as empty; missing fields are reported by name.
func (h *Handler) AddClientLegacy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		raw = nil
	}

	var missing []string
	for _, field := range legacyRequired {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		BadRequest(w, r, "Missing fields: "+strings.Join(missing, ", "))
		return
	}

	var req CreateClientRequest
	body, _ := json.Marshal(raw)
	if err := json.Unmarshal(body, &req); err != nil {
		BadRequest(w, r, "Invalid field types in request body")
		return
	}
	req.normalise()
	if err := req.validate(); err != nil {
		ValidationFailed(w, r, err.Error())
		return
	}

	clientID, err := h.DB.InsertClient(r.Context(), req.toClient())
	if err != nil {
		sentry.CaptureException(err)
		InternalError(w, r, err)
		return
	}

	WriteJSON(w, r, map[string]string{
		"status":    "ok",
		"client_id": clientID,
	}, http.StatusCreated)
}
