package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/utils"

	logger "github.com/sirupsen/logrus"
)

func UpdateUserHandler(users repository.UserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := currentUser(w, r, "update_profile")
		if !ok {
			return
		}

		var payload model.UpdateUserPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid user update payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}

		// work on a copy so a failed save leaves the context user untouched
		user := *current
		if payload.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*payload.Email))
			if _, err := mail.ParseAddress(email); err != nil {
				utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "A valid email is required")
				return
			}
			user.Email = email
		}
		if payload.Username != nil {
			username := strings.TrimSpace(*payload.Username)
			if !usernamePattern.MatchString(username) {
				utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Username must be 3-20 letters, digits or underscores")
				return
			}
			user.Username = username
		}
		if payload.FirstName != nil {
			user.FirstName = strings.TrimSpace(*payload.FirstName)
		}
		if payload.LastName != nil {
			user.LastName = strings.TrimSpace(*payload.LastName)
		}

		user.UpdatedAt = time.Now()

		if err := users.Update(r.Context(), &user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				utils.WriteError(w, http.StatusConflict, "conflict", "Email or username already registered")
				return
			}
			logger.WithError(err).Error("failed to update user profile")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to update profile")
			return
		}

		utils.WriteJSON(w, http.StatusOK, user.ToResponse())
	}
}

func ChangePasswordHandler(users repository.UserRepository, bcryptCost int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := currentUser(w, r, "change_password")
		if !ok {
			return
		}

		var payload model.ChangePasswordPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid change password payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}

		if payload.CurrentPassword == "" || payload.NewPassword == "" {
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Current and new passwords are required")
			return
		}
		if len(payload.NewPassword) < 8 {
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Password must be at least 8 characters")
			return
		}

		if !security.CheckPassword(current.Password, payload.CurrentPassword) {
			logger.WithField("user_id", current.ID).Warn("current password mismatch")
			utils.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid current password")
			return
		}

		hashedPassword, err := security.HashPassword(payload.NewPassword, bcryptCost)
		if errors.Is(err, security.ErrPasswordTooLong) {
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Password must be at most 72 bytes")
			return
		}
		if err != nil {
			logger.WithError(err).Error("failed to hash new password")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to update password")
			return
		}

		user := *current
		user.Password = hashedPassword
		user.UpdatedAt = time.Now()

		if err := users.Update(r.Context(), &user); err != nil {
			logger.WithError(err).Error("failed to update user password")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to update password")
			return
		}

		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
	}
}
