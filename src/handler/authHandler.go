package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/utils"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

type TokenIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
}

// AuthDeps groups what the account endpoints need.
type AuthDeps struct {
	Users      repository.UserRepository
	Tokens     TokenIssuer
	BcryptCost int
}

func validateRegistration(p *model.RegisterPayload) string {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Username = strings.TrimSpace(p.Username)

	if _, err := mail.ParseAddress(p.Email); err != nil || p.Email == "" {
		return "A valid email is required"
	}
	if !usernamePattern.MatchString(p.Username) {
		return "Username must be 3-20 letters, digits or underscores"
	}
	if len(p.Password) < 8 {
		return "Password must be at least 8 characters"
	}
	if len(p.Password) > 72 {
		return "Password must be at most 72 bytes"
	}
	return ""
}

func (d AuthDeps) taken(ctx context.Context, email, username string) (bool, error) {
	if _, err := d.Users.GetByEmail(ctx, email); err == nil {
		return true, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	if _, err := d.Users.GetByUsername(ctx, username); err == nil {
		return true, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	return false, nil
}

func (d AuthDeps) respondWithToken(w http.ResponseWriter, status int, user *model.User) {
	token, expiresAt, err := d.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		logger.WithError(err).Error("failed to issue access token")
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to issue token")
		return
	}
	utils.WriteJSON(w, status, model.AuthResponse{
		User:        user.ToResponse(),
		AccessToken: token,
		ExpiresAt:   expiresAt,
	})
}

func RegisterHandler(d AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload model.RegisterPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid register payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}
		if msg := validateRegistration(&payload); msg != "" {
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", msg)
			return
		}

		taken, err := d.taken(r.Context(), payload.Email, payload.Username)
		if err != nil {
			logger.WithError(err).Error("failed to check existing users")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to register")
			return
		}
		if taken {
			utils.WriteError(w, http.StatusConflict, "conflict", "Email or username already registered")
			return
		}

		hash, err := security.HashPassword(payload.Password, d.BcryptCost)
		if err != nil {
			logger.WithError(err).Error("failed to hash password")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to register")
			return
		}

		user := &model.User{
			ID:       uuid.NewString(),
			Email:    payload.Email,
			Username: payload.Username,
			Password: hash,
			Role:     model.RoleUser,
			IsActive: true,
		}
		if err := d.Users.Create(r.Context(), user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				utils.WriteError(w, http.StatusConflict, "conflict", "Email or username already registered")
				return
			}
			logger.WithError(err).Error("failed to create user")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to register")
			return
		}

		logger.WithFields(map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
		}).Info("user registered")
		d.respondWithToken(w, http.StatusCreated, user)
	}
}

func LoginHandler(d AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload model.LoginPayload
		if err := decodeStrict(r, &payload); err != nil {
			logger.WithError(err).Warn("invalid login payload")
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
			return
		}

		user, err := d.Users.GetByEmail(r.Context(), payload.Email)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.WithError(err).Error("failed to load user for login")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to log in")
			return
		}
		if user == nil || !security.CheckPassword(user.Password, payload.Password) {
			utils.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
			return
		}
		if !user.IsActive {
			utils.WriteError(w, http.StatusUnauthorized, "inactive_user", "Account is disabled")
			return
		}

		d.respondWithToken(w, http.StatusOK, user)
	}
}

func ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "profile")
		if !ok {
			return
		}
		utils.WriteJSON(w, http.StatusOK, user.ToResponse())
	}
}
