package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TestAdminPassword is the plain password of admins created by CreateTestAdmin
const TestAdminPassword = "TestPass123!"

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestAdmin creates an active admin with TestAdminPassword
func (tf *TestFixtures) CreateTestAdmin() (*models.Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestAdminPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &models.Admin{
		UUID:         uuid.New(),
		Username:     fmt.Sprintf("admin_%d", rand.Intn(1_000_000)),
		PasswordHash: string(hash),
		IsActive:     utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(admin).Error; err != nil {
		return nil, fmt.Errorf("failed to create test admin: %w", err)
	}
	return admin, nil
}

// CreateTestMessage creates an incoming message whose text is sent to recipients
func (tf *TestFixtures) CreateTestMessage(text string) (*models.IncomingMessage, error) {
	msg := &models.IncomingMessage{Text: text, CreatedAt: utils.UTCNow()}
	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create test message: %w", err)
	}
	return msg, nil
}

// CreateTestDispatchRecord creates a record for messageID in the given status.
// createdAt orders waiting records, newest first.
func (tf *TestFixtures) CreateTestDispatchRecord(messageID uint, phone string, status models.DispatchStatus, forced bool, createdAt time.Time) (*models.DispatchRecord, error) {
	rec := &models.DispatchRecord{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Phone:     phone,
		Status:    status,
		Forced:    forced,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if status == models.DispatchStatusSent {
		rec.FirstSentAt = utils.ToPtr(createdAt)
	}
	if err := tf.DB.DB.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create test dispatch record: %w", err)
	}
	return rec, nil
}
