package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a testify mock of repository.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

var _ repository.UserRepository = (*MockUserRepository)(nil)

func (m *MockUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) ListByRole(ctx context.Context, role string, excludeID uint) ([]models.User, error) {
	args := m.Called(ctx, role, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func TestGetUserProfile(t *testing.T) {
	app := fiber.New()
	mockRepo := new(MockUserRepository)
	presence := notifications.NewPresence(nil, notifications.PresenceConfig{})
	s := &Server{userRepo: mockRepo, presence: presence}

	app.Get("/users/:id", s.GetUserProfile)

	presence.Join(context.Background(), 2, "conn-2")

	tests := []struct {
		name           string
		userIDParam    string
		mockSetup      func()
		expectedStatus int
		expectOnline   bool
	}{
		{
			name:        "Success",
			userIDParam: "1",
			mockSetup: func() {
				mockRepo.On("GetByID", mock.Anything, uint(1)).
					Return(&models.User{ID: 1, Name: "Asha", Role: models.RoleFarmer}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "Online Officer",
			userIDParam: "2",
			mockSetup: func() {
				mockRepo.On("GetByID", mock.Anything, uint(2)).
					Return(&models.User{ID: 2, Name: "Ravi", Role: models.RoleOfficer, ProfilePic: "/media/p.jpg"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectOnline:   true,
		},
		{
			name:           "Invalid ID",
			userIDParam:    "abc",
			mockSetup:      func() {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "Not Found",
			userIDParam: "99",
			mockSetup: func() {
				mockRepo.On("GetByID", mock.Anything, uint(99)).Return(nil, models.NewNotFoundError("User", 99))
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			req := httptest.NewRequest(http.MethodGet, "/users/"+tt.userIDParam, nil)
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				body := decode[map[string]any](t, resp)
				assert.Equal(t, tt.expectOnline, body["online"])
				assert.NotEmpty(t, body["profile_pic"])
			}
		})
	}
	mockRepo.AssertExpectations(t)
}
