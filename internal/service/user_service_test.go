package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-track-api/internal/models"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
)

type userRepoStub struct {
	users      []models.User
	lastFilter models.UserFilter
}

func (s *userRepoStub) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	s.lastFilter = filter
	return s.users, len(s.users), nil
}

func (s *userRepoStub) FindByID(_ context.Context, id string) (*models.User, error) {
	for i := range s.users {
		if s.users[i].ID == id {
			return &s.users[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func TestUserServiceListGuides(t *testing.T) {
	repo := &userRepoStub{users: []models.User{
		{ID: "g1", FullName: "Dr. Rao", Role: models.RoleGuide, Active: true},
		{ID: "g2", FullName: "Dr. Iyer", Role: models.RoleGuide, Active: true},
	}}
	svc := NewUserService(repo, zap.NewNop())

	guides, err := svc.ListGuides(context.Background())
	require.NoError(t, err)
	assert.Len(t, guides, 2)

	require.NotNil(t, repo.lastFilter.Role)
	assert.Equal(t, models.RoleGuide, *repo.lastFilter.Role)
	require.NotNil(t, repo.lastFilter.Active)
	assert.True(t, *repo.lastFilter.Active)
}

func TestUserServiceProfile(t *testing.T) {
	repo := &userRepoStub{users: []models.User{{ID: "u1", FullName: "Asha", Role: models.RoleScholar}}}
	svc := NewUserService(repo, zap.NewNop())

	user, err := svc.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", user.FullName)

	_, err = svc.Profile(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
