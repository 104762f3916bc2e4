package controllers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/middleware"
	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// AuthController handles local account registration and JWT sessions.
type AuthController struct {
	db     *gorm.DB
	ledger *services.CoinLedger
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB, ledger *services.CoinLedger) *AuthController {
	return &AuthController{db: db, ledger: ledger}
}

// Register creates an account together with its empty coin balance.
func (a *AuthController) Register(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required"`
		Confirm  string `json:"confirm"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if l := utf8.RuneCountInString(req.Username); l < 3 || l > 64 || !validUsername(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 3-64 letters, digits, '-', '_' or '.'")
		return
	}
	if req.Confirm != "" && req.Password != req.Confirm {
		utils.Error(ctx, http.StatusBadRequest, 40002, "passwords do not match")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 72 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "password must be 8-72 characters")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40002, "invalid email address")
			return
		}
	}

	if middleware.ShadowsAdmin(req.Username) {
		utils.Error(ctx, http.StatusConflict, 40902, "username is reserved")
		return
	}

	// Unique indexes are case-sensitive outside MySQL.
	var existing int64
	if err := a.db.WithContext(ctx.Request.Context()).Model(&models.User{}).Where("LOWER(username) = ?", strings.ToLower(req.Username)).Count(&existing).Error; err == nil && existing > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
	}
	err = a.db.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserDetails{UserID: user.ID}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}

	a.respondWithToken(ctx, user, 0)
}

// Login verifies user credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.WithContext(ctx.Request.Context()).Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	balance, err := a.ledger.GetBalance(ctx.Request.Context(), user.ID)
	if services.IsNotFound(err) {
		// Accounts provisioned outside registration get their balance row on first login.
		err = a.ledger.EnsureAccount(ctx.Request.Context(), user.ID)
	}
	if err != nil {
		writeServiceError(ctx, err, 50004, "failed to load balance")
		return
	}
	a.respondWithToken(ctx, user, balance)
}

// Logout invalidates the token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	claims, err := utils.ParseToken(token)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
		return
	}

	expiresAt := time.Now().Add(tokenTTL())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information and balance.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}

	var user models.User
	if err := a.db.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	balance, err := a.ledger.GetBalance(ctx.Request.Context(), user.ID)
	if err != nil && !services.IsNotFound(err) {
		writeServiceError(ctx, err, 50005, "failed to load balance")
		return
	}
	utils.Success(ctx, userResponse(user, balance))
}

func (a *AuthController) respondWithToken(ctx *gin.Context, user models.User, balance int64) {
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, tokenTTL())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{
		"token": token,
		"user":  userResponse(user, balance),
	})
}

func tokenTTL() time.Duration {
	hours := config.Get().TokenTTLHours
	if hours <= 0 {
		hours = 72
	}
	return time.Duration(hours) * time.Hour
}

func validUsername(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}

func userResponse(user models.User, balance int64) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"role":       user.Role,
		"is_admin":   middleware.IsAdmin(user.Role, user.Username),
		"coins":      balance,
		"created_at": user.CreatedAt,
	}
}
