package cmlyst

import (
	"database/sql"
	"encoding/json"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// User is a stored author record. This layer only reads users: the
// cache is repopulated from the users table on every settings reload,
// and lookups never fail, they just come back absent.
type User struct {
	ID       int64
	Slug     string
	Email    string
	Name     string
	Bio      string
	Location string
	Website  string
	Twitter  string
	Facebook string
	Image    string
	Cover    string
	URL      string
}

// userProfile is the optional per-row JSON blob in the users table.
type userProfile struct {
	Name     string `json:"name"`
	Bio      string `json:"bio"`
	Location string `json:"location"`
	Website  string `json:"website"`
	Twitter  string `json:"twitter"`
	Facebook string `json:"facebook"`
	Image    string `json:"image"`
	Cover    string `json:"cover"`
	URL      string `json:"url"`
}

func (e *Engine) loadUsers() ([]User, map[int64]User, map[string]User, error) {
	rows, err := e.store.db.Query(`SELECT id, slug, email, json FROM users`)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	var users []User
	byID := make(map[int64]User)
	bySlug := make(map[string]User)
	for rows.Next() {
		var u User
		var blob sql.NullString
		if err := rows.Scan(&u.ID, &u.Slug, &u.Email, &blob); err != nil {
			return nil, nil, nil, err
		}
		if blob.Valid && blob.String != "" {
			var profile userProfile
			if err := json.Unmarshal([]byte(blob.String), &profile); err != nil {
				// A broken profile blob degrades to the bare record.
				e.log.Warn("malformed user profile", zap.String("slug", u.Slug), zap.Error(err))
			} else {
				u.Name = profile.Name
				u.Bio = profile.Bio
				u.Location = profile.Location
				u.Website = profile.Website
				u.Twitter = profile.Twitter
				u.Facebook = profile.Facebook
				u.Image = profile.Image
				u.Cover = profile.Cover
				u.URL = profile.URL
			}
		}
		users = append(users, u)
		byID[u.ID] = u
		bySlug[u.Slug] = u
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}
	return users, byID, bySlug, nil
}

// Users returns the cached user list.
func (e *Engine) Users(c echo.Context) []User {
	e.ensureFresh(c)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]User(nil), e.users...)
}

// UserByID looks up a cached user by numeric id.
func (e *Engine) UserByID(id int64) (User, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.usersByID[id]
	return u, ok
}

// UserBySlug looks up a cached user by slug.
func (e *Engine) UserBySlug(slug string) (User, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.usersBySlug[slug]
	return u, ok
}
