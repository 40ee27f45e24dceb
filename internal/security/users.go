package security

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/google/uuid"

	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

const systemUserType = "system"

type personal struct {
	LastName  string `json:"lastName"`
	FirstName string `json:"firstName,omitempty"`
}

type user struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Active   bool     `json:"active"`
	Type     string   `json:"type,omitempty"`
	Personal personal `json:"personal"`
}

type userCollection struct {
	Users        []user `json:"users"`
	TotalRecords int    `json:"totalRecords"`
}

type credentials struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type permissionUser struct {
	ID          string   `json:"id,omitempty"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

// CreatePubSubUser makes sure the system user exists for params.TenantID, is
// active, has credentials, and holds every configured permission. Calling it
// again for an up to date tenant changes nothing.
func (m *Manager) CreatePubSubUser(ctx context.Context, params ConnectionParams) error {
	log := m.logger.With(loggingpkg.LogFields{"tenant": params.TenantID, "username": m.cfg.SystemUser.Username})

	existing, err := m.findUser(ctx, params)
	if err != nil {
		return err
	}

	var userID string
	switch {
	case existing == nil:
		u := user{
			ID:       uuid.NewString(),
			Username: m.cfg.SystemUser.Username,
			Active:   true,
			Type:     systemUserType,
			Personal: personal{LastName: "System", FirstName: "System user - pub-sub"},
		}
		if err := m.client.call(ctx, params, http.MethodPost, "/users", u, nil); err != nil {
			return fmt.Errorf("create system user: %w", err)
		}
		creds := credentials{UserID: u.ID, Username: u.Username, Password: m.cfg.SystemUser.Password}
		if err := m.client.call(ctx, params, http.MethodPost, "/authn/credentials", creds, nil); err != nil {
			return fmt.Errorf("create system user credentials: %w", err)
		}
		log.Info("System user created", nil)
		userID = u.ID
	case needsUpdate(*existing):
		u := *existing
		u.Active = true
		u.Type = systemUserType
		if u.Personal.LastName == "" {
			u.Personal.LastName = "System"
		}
		if err := m.client.call(ctx, params, http.MethodPut, "/users/"+url.PathEscape(u.ID), u, nil); err != nil {
			return fmt.Errorf("update system user: %w", err)
		}
		log.Info("System user updated", nil)
		userID = u.ID
	default:
		userID = existing.ID
	}

	return m.assignPermissions(ctx, params, userID)
}

func needsUpdate(u user) bool {
	return !u.Active || u.Type != systemUserType || u.Personal.LastName == ""
}

func (m *Manager) findUser(ctx context.Context, params ConnectionParams) (*user, error) {
	q := url.Values{}
	q.Set("query", "username=="+m.cfg.SystemUser.Username)

	var found userCollection
	if err := m.client.call(ctx, params, http.MethodGet, "/users?"+q.Encode(), nil, &found); err != nil {
		return nil, fmt.Errorf("look up system user: %w", err)
	}
	if len(found.Users) == 0 {
		return nil, nil
	}
	return &found.Users[0], nil
}

func (m *Manager) assignPermissions(ctx context.Context, params ConnectionParams, userID string) error {
	want := normalize(m.cfg.Permissions)

	var current permissionUser
	err := m.client.call(ctx, params, http.MethodGet, "/perms/users/"+url.PathEscape(userID)+"?indexField=userId", nil, &current)
	switch {
	case IsNotFound(err):
		pu := permissionUser{ID: uuid.NewString(), UserID: userID, Permissions: want}
		if err := m.client.call(ctx, params, http.MethodPost, "/perms/users", pu, nil); err != nil {
			return fmt.Errorf("add system user permissions: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read system user permissions: %w", err)
	}

	have := normalize(current.Permissions)
	merged := normalize(append(slices.Clone(have), want...))
	if slices.Equal(have, merged) {
		return nil
	}

	current.UserID = userID
	current.Permissions = merged
	if err := m.client.call(ctx, params, http.MethodPut, "/perms/users/"+url.PathEscape(current.ID), current, nil); err != nil {
		return fmt.Errorf("update system user permissions: %w", err)
	}
	return nil
}

// normalize sorts and dedupes a permission set.
func normalize(perms []string) []string {
	out := append([]string{}, perms...)
	slices.Sort(out)
	return slices.Compact(out)
}
