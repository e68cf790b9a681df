package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileView is the representation of a user sent to its owner.
type ProfileView struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	ProfileImage    string `json:"profileImage,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

func (api *APIHandler) profileView(u User) ProfileView {
	v := ProfileView{UserID: u.ID, Email: u.Email, ProfileImage: u.ProfileImage}
	if u.ProfileImage != "" {
		v.ProfileImageURL = api.imageURL(u.ProfileImage)
	}
	return v
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, error) {
	var creds credentialsRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&creds)
	if err != nil && !errors.Is(err, io.EOF) {
		return creds, decodeError(err)
	}
	return creds, nil
}

// Signup godoc
// @Summary      Register a new account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      201  {object}  APIResponse
// @Failure      400  {object}  APIError
// @Router       /api/auth/signup [post]
func (api *APIHandler) Signup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		api.sendError(w, r, err, "failed to create the account")
		return
	}
	user, err := api.userService.Signup(r.Context(), creds.Email, creds.Password)
	if err != nil {
		api.sendError(w, r, err, "failed to create the account")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to create account", zap.String("user.id", user.ID))
	api.sendResponse(w, r, http.StatusCreated, "Account created successfully.", nil, map[string]string{"userId": user.ID})
}

// Login godoc
// @Summary      Exchange credentials for a token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  APIResponse
// @Failure      400,401  {object}  APIError
// @Router       /api/auth/login [post]
func (api *APIHandler) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		api.sendError(w, r, err, "failed to log in")
		return
	}
	session, err := api.userService.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		api.sendError(w, r, err, "failed to log in")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to log in", zap.String("user.id", session.UserID))
	api.sendResponse(w, r, http.StatusOK, "Logged in successfully.", nil, session)
}

// GetProfile godoc
// @Summary      Get the caller profile
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  APIResponse
// @Failure      401,404  {object}  APIError
// @Router       /api/auth/profile [get]
func (api *APIHandler) GetProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := GetValueFromContext(r.Context(), ContextUserID)
	user, err := api.userService.GetProfile(r.Context(), userID)
	if err != nil {
		api.sendError(w, r, err, "failed to get the profile", zap.String("user.id", userID))
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Profile fetched successfully.", nil, api.profileView(user))
}

// UpdateProfile godoc
// @Summary      Replace the caller profile image
// @Tags         auth
// @Accept       mpfd
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  APIResponse
// @Failure      400,401,413,415  {object}  APIError
// @Router       /api/auth/profile [put]
func (api *APIHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := GetValueFromContext(r.Context(), ContextUserID)
	req, err := api.DecodeUploadRequest(w, r)
	defer req.cleanup()
	if err != nil {
		api.sendError(w, r, err, "failed to update the profile", zap.String("user.id", userID))
		return
	}
	user, err := api.userService.UpdateProfileImage(r.Context(), userID, req.image)
	if err != nil {
		api.sendError(w, r, err, "failed to update the profile", zap.String("user.id", userID))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to update profile", zap.String("user.id", userID))
	api.sendResponse(w, r, http.StatusOK, "Profile updated successfully.", nil, api.profileView(user))
}
