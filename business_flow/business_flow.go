package businessflow

import (
	"math"
	"time"

	"github.com/amirphl/sms-dispatcher/app/dto"
	"github.com/amirphl/sms-dispatcher/app/scheduler"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/utils"
)

// ClientMetadata holds client information attached to admin actions for audit logging
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

func ToAdminDTOModel(admin models.Admin) dto.AdminDTO {
	return dto.AdminDTO{
		ID:          admin.ID,
		UUID:        admin.UUID.String(),
		Username:    admin.Username,
		IsActive:    admin.IsActive,
		CreatedAt:   admin.CreatedAt.UTC().Format(time.RFC3339),
		LastLoginAt: utils.FormatTimePtr(admin.LastLoginAt),
	}
}

func ToAdminSessionDTO(accessToken string, expiresAt time.Time) dto.AdminSessionDTO {
	return dto.AdminSessionDTO{
		AccessToken: accessToken,
		ExpiresIn:   int(math.Max(0, expiresAt.Sub(utils.UTCNow()).Seconds())),
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
		TokenType:   "Bearer",
	}
}

func ToDispatchRecordDTO(r models.DispatchRecord) dto.DispatchRecordDTO {
	return dto.DispatchRecordDTO{
		ID:              r.ID,
		MessageID:       r.MessageID,
		Phone:           r.Phone,
		CommunicationID: r.CommunicationID,
		Status:          string(r.Status),
		Forced:          r.Forced,
		Attempts:        r.Attempts,
		FirstSentAt:     utils.FormatTimePtr(r.FirstSentAt),
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func ToDispatchEngineStateDTO(s scheduler.EngineSnapshot) dto.DispatchEngineStateDTO {
	return dto.DispatchEngineStateDTO{
		PendingQueue:         s.PendingQueue,
		AwaitingConfirmation: s.AwaitingConfirmation,
		AdmissionActive:      s.AdmissionActive,
		DispatchActive:       s.DispatchActive,
		ReconciliationActive: s.ReconciliationActive,
		Running:              s.Running,
	}
}
