package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdateFields(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
}

// UserHandler はプロフィール参照と更新のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userResponse はユーザーのJSON表現。パスワードハッシュは含めない。
type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	UserName        *string   `json:"userName"`
	Avatar          *string   `json:"avatar"`
	OpenCategories  []int64   `json:"openCategories"`
	PurchasedStages []int64   `json:"purchasedStages"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:              u.ID,
		Email:           u.Email,
		UserName:        u.UserName,
		Avatar:          u.Avatar,
		OpenCategories:  u.OpenCategories,
		PurchasedStages: u.PurchasedStages,
		CreatedAt:       u.CreatedAt,
	}
	if resp.OpenCategories == nil {
		resp.OpenCategories = []int64{}
	}
	if resp.PurchasedStages == nil {
		resp.PurchasedStages = []int64{}
	}
	return resp
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type userUpdatedResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

// Me は認証済みユーザーのプロフィールを返す。
// GET /me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

// UpdateMe は指定されたプロフィール項目のみを更新する。
// PATCH /me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Invalid JSON body"))
		return
	}

	update, err := user.ParseUpdate(body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := h.service.UpdateFields(r.Context(), userID, update)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userUpdatedResponse{
		Message: "User updated",
		User:    toUserResponse(u),
	})
}
