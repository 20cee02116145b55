package businessflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/amirphl/sms-dispatcher/app/dto"
	"github.com/amirphl/sms-dispatcher/app/services"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/repository"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthFlow represents the admin authentication flow used by handlers
type AdminAuthFlow interface {
	Login(ctx context.Context, req *dto.AdminLoginRequest, metadata *ClientMetadata) (*dto.AdminLoginResponse, error)
	Logout(ctx context.Context, accessToken string) error
	EnsureBootstrapAdmin(ctx context.Context, username, password string) (bool, error)
}

// AdminAuthFlowImpl verifies admin credentials and issues access tokens
type AdminAuthFlowImpl struct {
	adminRepo    repository.AdminRepository
	tokenService services.TokenService
	bcryptCost   int
}

func NewAdminAuthFlow(adminRepo repository.AdminRepository, tokenService services.TokenService, bcryptCost int) AdminAuthFlow {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AdminAuthFlowImpl{
		adminRepo:    adminRepo,
		tokenService: tokenService,
		bcryptCost:   bcryptCost,
	}
}

func (af *AdminAuthFlowImpl) Login(ctx context.Context, req *dto.AdminLoginRequest, metadata *ClientMetadata) (*dto.AdminLoginResponse, error) {
	if req == nil || len(req.Username) == 0 || len(req.Password) == 0 {
		return nil, NewBusinessError("ADMIN_LOGIN_VALIDATION_FAILED", "Admin login validation failed", ErrIncorrectPassword)
	}

	admin, err := af.adminRepo.ByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, NewBusinessError("ADMIN_LOOKUP_FAILED", "Failed to lookup admin", err)
	}
	if admin == nil {
		return nil, NewBusinessError("ADMIN_NOT_FOUND", "Admin not found", ErrAdminNotFound)
	}
	if !utils.IsTrue(admin.IsActive) {
		return nil, NewBusinessError("ADMIN_INACTIVE", "Admin account is inactive", ErrAdminInactive)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		return nil, NewBusinessError("ADMIN_INCORRECT_PASSWORD", "Incorrect password", ErrIncorrectPassword)
	}

	accessToken, expiresAt, err := af.tokenService.GenerateAdminToken(admin.ID)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate tokens", err)
	}

	// A failed stamp must not block the login
	if err := af.adminRepo.UpdateLastLogin(ctx, admin.ID); err != nil {
		log.Println("admin login: update last login failed", err)
	} else {
		admin.LastLoginAt = utils.UTCNowPtr()
	}

	if metadata != nil {
		log.Printf("admin login: admin=%d ip=%s request_id=%s", admin.ID, metadata.IPAddress, metadata.RequestID)
	}

	return &dto.AdminLoginResponse{
		Admin:   ToAdminDTOModel(*admin),
		Session: ToAdminSessionDTO(accessToken, expiresAt),
	}, nil
}

func (af *AdminAuthFlowImpl) Logout(ctx context.Context, accessToken string) error {
	if err := af.tokenService.RevokeAdminToken(ctx, accessToken); err != nil {
		return NewBusinessError("ADMIN_LOGOUT_FAILED", "Failed to revoke token", err)
	}
	return nil
}

// EnsureBootstrapAdmin creates the admin account when none with that username exists.
// It reports whether an account was created.
func (af *AdminAuthFlowImpl) EnsureBootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, nil
	}

	existing, err := af.adminRepo.ByUsername(ctx, username)
	if err != nil {
		return false, NewBusinessError("ADMIN_LOOKUP_FAILED", "Failed to lookup admin", err)
	}
	if existing != nil {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), af.bcryptCost)
	if err != nil {
		return false, NewBusinessError("PASSWORD_HASH_FAILED", "Failed to hash password", err)
	}

	admin := &models.Admin{
		UUID:         uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     utils.ToPtr(true),
	}
	if err := af.adminRepo.Save(ctx, admin); err != nil {
		return false, NewBusinessError("ADMIN_CREATE_FAILED", fmt.Sprintf("Failed to create admin %q", username), err)
	}
	return true, nil
}
