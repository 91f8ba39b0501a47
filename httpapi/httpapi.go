// Package httpapi is the request/response surface around the relay:
// account signup and login (which mint the tokens the websocket handshake
// verifies), profile lookup, contact listing, and conversation history.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"whisper/models"
	"whisper/store"
	"whisper/token"
)

// Store is the slice of the durable store the HTTP surface needs.
// Satisfied by *store.DB.
type Store interface {
	CreateUser(nickname, email, password string) (*models.User, error)
	Authenticate(email, password string) (*models.User, error)
	FindUserByID(id string) (*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	Contacts(owner string) ([]models.ContactProfile, error)
	MessagesBetween(userA, userB string) ([]models.Message, error)
}

// Tokens issues credentials on login and verifies them on authenticated
// requests. Satisfied by *token.Issuer.
type Tokens interface {
	Issue(userID, nickname, avatar string) (string, error)
	Verify(raw string) (*token.Claims, error)
}

type API struct {
	store  Store
	tokens Tokens
}

func New(store Store, tokens Tokens) *API {
	return &API{store: store, tokens: tokens}
}

// Register mounts all REST routes on the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/auth/signup", a.signup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(a.requireAuth)
	authed.HandleFunc("/users", a.findUserByEmail).Methods(http.MethodGet).Queries("email", "{email}")
	authed.HandleFunc("/users/{id}", a.findUserByID).Methods(http.MethodGet)
	authed.HandleFunc("/contacts", a.contacts).Methods(http.MethodGet)
	authed.HandleFunc("/messages", a.messagesBetween).Methods(http.MethodGet)
}

type ctxKey int

const userIDKey ctxKey = 0

// requireAuth is the bearer-token gate for the CRUD routes. It reuses the
// same verifier the websocket handshake does.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		}

		claims, err := a.tokens.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		ctx := contextWithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type signupRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Nickname == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "nickname, email and password are required")
		return
	}

	user, err := a.store.CreateUser(req.Nickname, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "nickname or email already registered")
			return
		}
		logrus.WithError(err).Error("Signup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	jwt, err := a.tokens.Issue(user.ID, user.Nickname, user.Avatar)
	if err != nil {
		logrus.WithError(err).Error("Token issue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	logrus.WithFields(logrus.Fields{"user": user.ID, "nickname": user.Nickname}).Info("User signed up")
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "signed up",
		"userId":  user.ID,
		"jwt":     jwt,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.store.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, "wrong email or password")
			return
		}
		logrus.WithError(err).Error("Login failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	jwt, err := a.tokens.Issue(user.ID, user.Nickname, user.Avatar)
	if err != nil {
		logrus.WithError(err).Error("Token issue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged in",
		"userId":  user.ID,
		"jwt":     jwt,
	})
}

func (a *API) findUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	user, err := a.store.FindUserByEmail(email)
	if err != nil {
		writeUserLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ContactProfile{
		UserID:   user.ID,
		Nickname: user.Nickname,
		Email:    user.Email,
		Avatar:   user.Avatar,
	})
}

func (a *API) findUserByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	user, err := a.store.FindUserByID(id)
	if err != nil {
		writeUserLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ContactProfile{
		UserID:   user.ID,
		Nickname: user.Nickname,
		Email:    user.Email,
		Avatar:   user.Avatar,
	})
}

func (a *API) contacts(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	profiles, err := a.store.Contacts(userID)
	if err != nil {
		logrus.WithField("user", userID).WithError(err).Error("Contacts lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if profiles == nil {
		profiles = []models.ContactProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": profiles})
}

type messageView struct {
	ID        string    `json:"messageId"`
	Sender    string    `json:"senderUserId"`
	Recipient string    `json:"recipientUserId"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// messagesBetween is the synchronous fetch through which an offline
// recipient discovers messages stored while no connection was registered.
func (a *API) messagesBetween(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	theirID := r.URL.Query().Get("theirId")
	if theirID == "" {
		writeError(w, http.StatusBadRequest, "no user id provided")
		return
	}

	messages, err := a.store.MessagesBetween(userID, theirID)
	if err != nil {
		logrus.WithField("user", userID).WithError(err).Error("Message fetch failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			ID:        m.ID,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
			Read:      m.Read,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

func writeUserLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	logrus.WithError(err).Error("User lookup failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
