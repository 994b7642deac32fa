package collector

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/metorial/beacon/internal/models"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap"
)

const adminPrefix = "/api/v1/admin"

// AdminAPI manages hosts and settings. Every route requires the bearer token; with an
// empty token no route is registered at all.
type AdminAPI struct {
	store   store.AdminStore
	token   [sha256.Size]byte
	enabled bool
	clock   clock.Clock
	logger  *zap.Logger
}

func NewAdminAPI(as store.AdminStore, token string, clk clock.Clock, logger *zap.Logger) *AdminAPI {
	if clk == nil {
		clk = clock.New()
	}
	return &AdminAPI{
		store:   as,
		token:   sha256.Sum256([]byte(token)),
		enabled: token != "",
		clock:   clk,
		logger:  logger.Named("admin"),
	}
}

func (a *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	if !a.enabled {
		a.logger.Info("admin API disabled, no token configured")
		return
	}
	mux.Handle("POST "+adminPrefix+"/hosts", a.auth(a.handleCreateHost))
	mux.Handle("PUT "+adminPrefix+"/hosts/{id}", a.auth(a.handleUpdateHost))
	mux.Handle("DELETE "+adminPrefix+"/hosts/{id}", a.auth(a.handleDeleteHost))
	mux.Handle("POST "+adminPrefix+"/hosts/{id}/secret", a.auth(a.handleRotateSecret))
	mux.Handle("GET "+adminPrefix+"/settings", a.auth(a.handleGetSettings))
	mux.Handle("PUT "+adminPrefix+"/settings", a.auth(a.handleUpdateSettings))
}

func (a *AdminAPI) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := sha256.Sum256([]byte(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")))
		if subtle.ConstantTimeCompare(got[:], a.token[:]) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// maskedSecret replaces the bot token in settings responses.
const maskedSecret = "********"

type hostRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IP          string   `json:"ip"`
	Secret      string   `json:"secret"`
	Intro       string   `json:"intro"`
	Tags        []string `json:"tags"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	CountryCode string   `json:"country_code"`
}

// descriptors normalizes the operator-supplied details. Empty tags are dropped and the
// country code must be two letters.
func (req *hostRequest) descriptors() (models.Descriptors, error) {
	d := models.Descriptors{
		Intro:       strings.TrimSpace(req.Intro),
		Tags:        models.ParseTags(strings.Join(req.Tags, ",")),
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
	}
	if d.CountryCode != "" && !isCountryCode(d.CountryCode) {
		return d, errors.New("country_code must be two letters")
	}
	return d, nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// validHostID rejects ids that reports could never match: the report decoder trims the
// id, so inner or surrounding whitespace is refused here.
func validHostID(id string) bool {
	return id != "" && !strings.ContainsFunc(id, unicode.IsSpace)
}

type hostResponse struct {
	Host   *models.Host `json:"host"`
	Secret string       `json:"secret"`
}

func (a *AdminAPI) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if req.ID = strings.TrimSpace(req.ID); !validHostID(req.ID) {
		respondError(w, http.StatusBadRequest, "id must be non-empty and contain no whitespace")
		return
	}
	desc, err := req.descriptors()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Secret == "" {
		secret, err := NewSecret()
		if err != nil {
			a.internalError(w, "generate secret", err)
			return
		}
		req.Secret = secret
	}

	now := a.clock.Now().Unix()
	host := &models.Host{
		ID:        req.ID,
		Name:      strings.TrimSpace(req.Name),
		Secret:    req.Secret,
		IP:          strings.TrimSpace(req.IP),
		CreatedAt:   now,
		UpdatedAt:   now,
		Descriptors: desc,
	}
	err = a.store.CreateHost(r.Context(), host)
	if errors.Is(err, store.ErrConflict) {
		respondError(w, http.StatusConflict, "host already exists")
		return
	}
	if err != nil {
		a.internalError(w, "create host", err)
		return
	}

	a.logger.Info("host created", zap.String("host_id", host.ID))
	respondJSON(w, http.StatusCreated, hostResponse{Host: host, Secret: host.Secret})
}

func (a *AdminAPI) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	desc, err := req.descriptors()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	host := &models.Host{
		ID:          r.PathValue("id"),
		Name:        strings.TrimSpace(req.Name),
		IP:          strings.TrimSpace(req.IP),
		UpdatedAt:   a.clock.Now().Unix(),
		Descriptors: desc,
	}
	if err := a.store.UpdateHost(r.Context(), host); err != nil {
		a.storeError(w, "update host", host.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"host": host})
}

func (a *AdminAPI) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.DeleteHost(r.Context(), id); err != nil {
		a.storeError(w, "delete host", id, err)
		return
	}
	a.logger.Info("host deleted", zap.String("host_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleRotateSecret replaces the host credential. The old secret stops working as soon
// as the update commits.
func (a *AdminAPI) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	secret, err := NewSecret()
	if err != nil {
		a.internalError(w, "generate secret", err)
		return
	}
	if err := a.store.SetSecret(r.Context(), id, secret, a.clock.Now().Unix()); err != nil {
		a.storeError(w, "rotate secret", id, err)
		return
	}
	a.logger.Info("secret rotated", zap.String("host_id", id))
	respondJSON(w, http.StatusOK, map[string]string{"host_id": id, "secret": secret})
}

func (a *AdminAPI) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.store.Settings(r.Context())
	if err != nil {
		a.internalError(w, "load settings", err)
		return
	}
	if settings.Get(models.SettingTelegramBotToken, "") != "" {
		settings[models.SettingTelegramBotToken] = maskedSecret
	}
	respondJSON(w, http.StatusOK, settings)
}

func (a *AdminAPI) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON object of strings")
		return
	}
	for k, v := range settings {
		if !models.KnownSetting(k) {
			respondError(w, http.StatusBadRequest, "unknown setting "+k)
			return
		}
		// a settings document read back from GET carries the mask, not the token
		if k == models.SettingTelegramBotToken && v == maskedSecret {
			delete(settings, k)
		}
	}
	if err := a.store.UpdateSettings(r.Context(), settings); err != nil {
		a.internalError(w, "update settings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) storeError(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "host not found")
		return
	}
	a.internalError(w, op, err, zap.String("host_id", id))
}

func (a *AdminAPI) internalError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	a.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// NewSecret returns a random 32-byte credential encoded as hex.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
