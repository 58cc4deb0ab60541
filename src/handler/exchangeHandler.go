package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/utils"
	"portfoliodoctor/src/vault"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// CredentialVault is the subset of the vault the exchange endpoints use.
type CredentialVault interface {
	Store(ctx context.Context, req vault.StoreRequest) (vault.Outcome, *model.ConnectedExchange, error)
	Rotate(ctx context.Context, req vault.StoreRequest) (*model.ConnectedExchange, error)
	Revoke(ctx context.Context, userID, exchangeID string) error
	ListConnected(ctx context.Context, userID string) ([]model.ConnectedExchange, error)
}

type ExchangeCatalogue interface {
	Supported(exchangeID string) bool
	Catalogue() []connectors.ExchangeInfo
}

type ConnectResponse struct {
	Message  string                   `json:"message"`
	Outcome  vault.Outcome            `json:"outcome,omitempty"`
	Exchange *model.ConnectedExchange `json:"exchange"`
}

var connectMessages = map[vault.Outcome]string{
	vault.OutcomeCreated:     "connected",
	vault.OutcomeRotated:     "keys updated",
	vault.OutcomeReactivated: "reconnected",
}

func normalizeExchangeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func writeVaultError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, vault.ErrInvalidCredential):
		utils.WriteError(w, http.StatusBadRequest, "invalid_credential", err.Error())
	case errors.Is(err, vault.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_connected", "Exchange is not connected")
	default:
		logger.WithError(err).WithField("op", op).Error("credential vault failure")
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to process exchange credentials")
	}
}

func ListExchangesHandler(catalogue ExchangeCatalogue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"exchanges": catalogue.Catalogue()})
	}
}

func ConnectedExchangesHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "connected_exchanges")
		if !ok {
			return
		}
		connected, err := v.ListConnected(r.Context(), user.ID)
		if err != nil {
			writeVaultError(w, err, "list_connected")
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"exchanges": connected})
	}
}

func ConnectExchangeHandler(v CredentialVault, catalogue ExchangeCatalogue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "connect_exchange")
		if !ok {
			return
		}

		var payload model.ConnectExchangePayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid connect exchange payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}
		exchangeID := normalizeExchangeID(payload.ExchangeID)
		if !catalogue.Supported(exchangeID) {
			utils.WriteError(w, http.StatusBadRequest, "unsupported_exchange", "Unsupported exchange")
			return
		}

		outcome, conn, err := v.Store(r.Context(), vault.StoreRequest{
			UserID:          user.ID,
			ExchangeID:      exchangeID,
			APIKey:          payload.APIKey,
			APISecret:       payload.APISecret,
			SignatureMethod: payload.SignatureMethod,
			Permissions:     payload.Permissions,
		})
		if err != nil {
			writeVaultError(w, err, "connect")
			return
		}

		status := http.StatusOK
		if outcome == vault.OutcomeCreated {
			status = http.StatusCreated
		}
		utils.WriteJSON(w, status, ConnectResponse{
			Message:  connectMessages[outcome],
			Outcome:  outcome,
			Exchange: conn,
		})
	}
}

func UpdateExchangeKeysHandler(v CredentialVault, catalogue ExchangeCatalogue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "update_exchange")
		if !ok {
			return
		}
		exchangeID := normalizeExchangeID(chi.URLParam(r, "exchangeId"))
		if !catalogue.Supported(exchangeID) {
			utils.WriteError(w, http.StatusBadRequest, "unsupported_exchange", "Unsupported exchange")
			return
		}

		var payload model.UpdateExchangeKeysPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid update exchange payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}

		conn, err := v.Rotate(r.Context(), vault.StoreRequest{
			UserID:          user.ID,
			ExchangeID:      exchangeID,
			APIKey:          payload.APIKey,
			APISecret:       payload.APISecret,
			SignatureMethod: payload.SignatureMethod,
			Permissions:     payload.Permissions,
		})
		if err != nil {
			writeVaultError(w, err, "rotate")
			return
		}
		utils.WriteJSON(w, http.StatusOK, ConnectResponse{
			Message:  connectMessages[vault.OutcomeRotated],
			Outcome:  vault.OutcomeRotated,
			Exchange: conn,
		})
	}
}

func DisconnectExchangeHandler(v CredentialVault, catalogue ExchangeCatalogue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "disconnect_exchange")
		if !ok {
			return
		}
		exchangeID := normalizeExchangeID(chi.URLParam(r, "exchangeId"))
		if !catalogue.Supported(exchangeID) {
			utils.WriteError(w, http.StatusBadRequest, "unsupported_exchange", "Unsupported exchange")
			return
		}
		if err := v.Revoke(r.Context(), user.ID, exchangeID); err != nil {
			writeVaultError(w, err, "revoke")
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "disconnected"})
	}
}
