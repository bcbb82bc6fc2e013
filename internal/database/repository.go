package database

import (
	"context"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	GetBool(ctx context.Context, key string) (bool, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}

// UserRepository manages application user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// ServerRepository manages PBX/agent server bindings.
type ServerRepository interface {
	Create(ctx context.Context, srv *models.Server) error
	GetByID(ctx context.Context, id int64) (*models.Server, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Server, error)
	GetDefault(ctx context.Context) (*models.Server, error)
	Update(ctx context.Context, srv *models.Server) error
}

// PbxUserRepository manages user-to-extension mappings and their channels.
type PbxUserRepository interface {
	Create(ctx context.Context, pu *models.PbxUser) error
	GetByID(ctx context.Context, id int64) (*models.PbxUser, error)
	GetByExten(ctx context.Context, serverID int64, exten string) (*models.PbxUser, error)
	GetByUserID(ctx context.Context, serverID, userID int64) (*models.PbxUser, error)
	List(ctx context.Context, serverID int64) ([]models.PbxUser, error)
	Update(ctx context.Context, pu *models.PbxUser) error
	Delete(ctx context.Context, id int64) error

	CreateChannel(ctx context.Context, ch *models.UserChannel) error
	ListChannels(ctx context.Context, pbxUserID int64) ([]models.UserChannel, error)
	ListOriginateChannels(ctx context.Context, pbxUserID int64) ([]models.UserChannel, error)
	DeleteChannel(ctx context.Context, id int64) error
}

// PartnerRepository manages CRM contacts and their activity messages.
type PartnerRepository interface {
	Create(ctx context.Context, p *models.Partner) error
	GetByID(ctx context.Context, id int64) (*models.Partner, error)
	SearchByNumber(ctx context.Context, number string) (*models.Partner, error)
	List(ctx context.Context) ([]models.Partner, error)
	Update(ctx context.Context, p *models.Partner) error
	Delete(ctx context.Context, id int64) error
	PostMessage(ctx context.Context, partnerID int64, body string) error
	ListMessages(ctx context.Context, partnerID int64) ([]models.PartnerMessage, error)
}

// CallListFilter specifies filtering and pagination for call list queries.
type CallListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches calling_number or called_number
	Direction string // "in", "out", or "" for all
	Status    string
	StartDate string // RFC3339 or YYYY-MM-DD
	EndDate   string
}

// CallRepository manages calls and their channels.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id int64) (*models.Call, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error)
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
	ListActive(ctx context.Context) ([]models.Call, error)
	CountActive(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	Update(ctx context.Context, call *models.Call) error

	CreateChannel(ctx context.Context, ch *models.Channel) error
	GetChannelByID(ctx context.Context, id int64) (*models.Channel, error)
	GetChannelByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error)
	ListChannels(ctx context.Context, callID int64) ([]models.Channel, error)
	UpdateChannel(ctx context.Context, ch *models.Channel) error
	DeactivateChannels(ctx context.Context, callID int64) error
}

// RecordingListFilter specifies filtering and pagination for recording lists.
type RecordingListFilter struct {
	Limit  int
	Offset int
	Search string // matches calling_number or called_number
}

// RecordingRepository manages call recordings.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.Recording, error)
	GetByToken(ctx context.Context, token string) (*models.Recording, error)
	List(ctx context.Context, filter RecordingListFilter) ([]models.Recording, int, error)
	Count(ctx context.Context) (int64, error)
	Update(ctx context.Context, rec *models.Recording) error
	Delete(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context, days int) ([]string, error)
}
