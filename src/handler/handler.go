package handler

import (
	"encoding/json"
	"net/http"

	"portfoliodoctor/src/auth"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/utils"

	logger "github.com/sirupsen/logrus"
)

// decodeStrict reads a JSON body and rejects unknown fields.
func decodeStrict(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// currentUser writes a 401 and returns false when the request carries no user.
func currentUser(w http.ResponseWriter, r *http.Request, op string) (*model.User, bool) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok || user == nil {
		logger.WithField("op", op).Warn("user not found in context")
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return nil, false
	}
	return user, true
}
