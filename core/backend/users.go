package backend

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

// userSearchResult is the projection of a profile in search results
type userSearchResult struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Role      core.Role `json:"role"`
	Company   *string   `json:"company"`
}

func (b *Backend) handleUsers(router *mux.Router) {
	logger.Default().Debugln("users")
	logger.Default().Debugln("  handle user routes: /api/users/search GET")
	router.HandleFunc("/search", b.searchUsers).Methods(http.MethodGet)
	logger.Default().Debugln("  handle user routes: /api/users/me GET")
	router.HandleFunc("/me", b.getMe).Methods(http.MethodGet)
	logger.Default().Debugln("  handle user routes: /api/users/{id} GET")
	router.HandleFunc("/{id}", b.getUser).Methods(http.MethodGet)
}

func (b *Backend) searchUsers(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Q     string `query:"q" validate:"required,min=2,max=100"`
		Limit int    `query:"limit,default:10" validate:"min=1,max=50"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	profiles, err := b.store.SearchProfiles(r.Context(), q.Q, caller(r).UserID, q.Limit)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4901: cannot search profiles")
		envelope.Error(w, http.StatusInternalServerError, "Failed to search users")
		return
	}
	users := make([]userSearchResult, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, userSearchResult{
			ID:        p.ID,
			Email:     p.Email,
			FullName:  p.FullName,
			AvatarURL: p.AvatarURL,
			Role:      p.Role,
			Company:   p.Company,
		})
	}
	envelope.OK(w, http.StatusOK, users)
}

func (b *Backend) getMe(w http.ResponseWriter, r *http.Request) {
	b.writeProfile(w, r, caller(r).UserID)
}

func (b *Backend) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b.writeProfile(w, r, id)
}

func (b *Backend) writeProfile(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	profile, err := b.store.GetProfile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4902: cannot load profile")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}
	envelope.OK(w, http.StatusOK, profile)
}
